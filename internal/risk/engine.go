package risk

import (
	"fmt"
	"time"

	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

// Risk & Signal Gating Engine
//
// Чистая функция от своих входов: никакого внутреннего состояния,
// никакого I/O. Pipeline гейтов в фиксированном порядке, первый отказ
// завершает проверку. Каждый гейт записывает pass/fail и все числовые
// входы в audit - решение восстанавливается по записи без повторного
// запуска системы.

// Имена гейтов (в порядке pipeline)
const (
	GateStaleness  = "staleness"
	GateExposure   = "exposure"
	GateVolatility = "volatility"
	GateSession    = "session"
	GateFlow       = "flow"
	GateSizing     = "sizing"
	GateVaR        = "var"
)

// Config - настройки Gating Engine
//
// Все пороги - tunables, не константы.
type Config struct {
	// MaxSnapshotAge - максимальный возраст снимка счёта
	MaxSnapshotAge time.Duration

	// MaxConcurrentPositions - предел одновременно открытых позиций
	MaxConcurrentPositions int

	// MaxExposurePerSymbol - предел суммарного объёма по одному символу
	MaxExposurePerSymbol float64

	// VolatilityMin/Max - допустимая полоса ATR/price
	// (слишком тихий рынок не даёт хода, слишком хаотичный - неуправляем)
	VolatilityMin float64
	VolatilityMax float64

	// Sessions - торговые окна (пусто = круглосуточно)
	Sessions []utils.TimeWindow

	// Blackouts - запретные интервалы (плановые новости)
	Blackouts []utils.TimeWindow

	// MinMoneyFlow / MinRelVolume - минимумы силы потока
	MinMoneyFlow int
	MinRelVolume float64

	// KellyCap - верхний предел доли Келли (fractional Kelly)
	KellyCap float64

	// RiskBudget - доля equity, рискуемая в одной сделке
	RiskBudget float64

	// MinSize / MaxSize - границы объёма позиции
	MinSize float64
	MaxSize float64

	// LotStep - шаг округления объёма
	LotStep float64

	// VaRConfidence - уровень доверия VaR
	VaRConfidence float64

	// VaRCeiling - предел портфельного VaR как доля equity
	VaRCeiling float64
}

// DefaultConfig - осторожные значения по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxSnapshotAge:         10 * time.Second,
		MaxConcurrentPositions: 5,
		MaxExposurePerSymbol:   1.0,
		VolatilityMin:          0.0002,
		VolatilityMax:          0.02,
		MinMoneyFlow:           40,
		MinRelVolume:           0.8,
		KellyCap:               0.25,
		RiskBudget:             0.02,
		MinSize:                0.01,
		MaxSize:                1.0,
		LotStep:                0.01,
		VaRConfidence:          0.95,
		VaRCeiling:             0.1,
	}
}

// Input - все входы одного решения
//
// Собирается вызывающим до вызова Evaluate: движок не ходит
// ни в Store, ни к брокеру.
type Input struct {
	Candidate     models.CandidateSignal
	Account       models.AccountSnapshot
	OpenPositions []models.Position
	Metrics       models.RiskMetrics
	Now           time.Time
}

// Decision - итог pipeline
type Decision struct {
	Outcome string               `json:"outcome"` // approve, resize, reject
	Size    float64              `json:"size"`
	Reason  string               `json:"reason,omitempty"`
	Audit   []models.GateResult  `json:"audit"`
}

// Approved возвращает true для approve и resize
func (d Decision) Approved() bool {
	return d.Outcome == models.OutcomeApprove || d.Outcome == models.OutcomeResize
}

// Evaluate прогоняет кандидата через pipeline гейтов
//
// Порядок фиксирован: staleness -> exposure -> volatility -> session ->
// flow -> sizing -> VaR. Первый отказ завершает проверку (short-circuit),
// но его запись остаётся в audit вместе с пройденными гейтами.
func Evaluate(in Input, cfg Config) Decision {
	var audit []models.GateResult

	reject := func(gate, reason string, values map[string]float64) Decision {
		audit = append(audit, models.GateResult{Gate: gate, Passed: false, Reason: reason, Values: values})
		return Decision{Outcome: models.OutcomeReject, Reason: reason, Audit: audit}
	}
	pass := func(gate string, values map[string]float64) {
		audit = append(audit, models.GateResult{Gate: gate, Passed: true, Values: values})
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	// 1. Staleness: торговать по устаревшему счёту запрещено
	age := in.Account.Age(now)
	ageValues := map[string]float64{
		"age_seconds": age.Seconds(),
		"max_seconds": cfg.MaxSnapshotAge.Seconds(),
	}
	if in.Account.IsZero() {
		return reject(GateStaleness, "account snapshot never updated", ageValues)
	}
	if age > cfg.MaxSnapshotAge {
		return reject(GateStaleness,
			fmt.Sprintf("account snapshot age %v exceeds %v", age.Round(time.Millisecond), cfg.MaxSnapshotAge),
			ageValues)
	}
	pass(GateStaleness, ageValues)

	// 2. Exposure: пределы по количеству позиций и объёму на символ
	var symbolExposure float64
	for _, pos := range in.OpenPositions {
		if pos.Symbol == in.Candidate.Symbol {
			symbolExposure += pos.Volume
		}
	}
	expValues := map[string]float64{
		"open_positions":  float64(len(in.OpenPositions)),
		"max_positions":   float64(cfg.MaxConcurrentPositions),
		"symbol_exposure": symbolExposure,
		"max_exposure":    cfg.MaxExposurePerSymbol,
	}
	if len(in.OpenPositions) >= cfg.MaxConcurrentPositions {
		return reject(GateExposure, "max concurrent positions reached", expValues)
	}
	if symbolExposure >= cfg.MaxExposurePerSymbol {
		return reject(GateExposure, "symbol exposure limit reached", expValues)
	}
	pass(GateExposure, expValues)

	// 3. Volatility: ATR/price в допустимой полосе
	features := in.Candidate.Features
	var volRatio float64
	if features.Price > 0 {
		volRatio = features.ATR / features.Price
	}
	volValues := map[string]float64{
		"atr":       features.ATR,
		"price":     features.Price,
		"ratio":     volRatio,
		"band_min":  cfg.VolatilityMin,
		"band_max":  cfg.VolatilityMax,
	}
	if features.Price <= 0 {
		return reject(GateVolatility, "non-positive price in feature snapshot", volValues)
	}
	if volRatio < cfg.VolatilityMin {
		return reject(GateVolatility, "market too quiet", volValues)
	}
	if volRatio > cfg.VolatilityMax {
		return reject(GateVolatility, "market too erratic", volValues)
	}
	pass(GateVolatility, volValues)

	// 4. Session: торговые окна и blackout'ы
	minuteOfDay := float64(now.UTC().Hour()*60 + now.UTC().Minute())
	sessValues := map[string]float64{"minute_of_day_utc": minuteOfDay}
	if !utils.InAnyWindow(now, cfg.Sessions) {
		return reject(GateSession, "outside trading session", sessValues)
	}
	if utils.InAnyBlackout(now, cfg.Blackouts) {
		return reject(GateSession, "inside blackout window", sessValues)
	}
	pass(GateSession, sessValues)

	// 5. Flow: сила потока и относительный объём
	flowValues := map[string]float64{
		"money_flow":     features.MoneyFlowIndex,
		"min_money_flow": float64(cfg.MinMoneyFlow),
		"rel_volume":     features.RelativeVolume,
		"min_rel_volume": cfg.MinRelVolume,
	}
	if features.MoneyFlowIndex < float64(cfg.MinMoneyFlow) {
		return reject(GateFlow, "weak money flow", flowValues)
	}
	if features.RelativeVolume < cfg.MinRelVolume {
		return reject(GateFlow, "relative volume below minimum", flowValues)
	}
	pass(GateFlow, flowValues)

	// 6. Sizing: капped fractional Kelly
	kelly := utils.Clamp(in.Metrics.KellyFraction, 0, cfg.KellyCap)
	capitalAtRisk := in.Account.Equity * cfg.RiskBudget

	sizeValues := map[string]float64{
		"kelly_raw":       in.Metrics.KellyFraction,
		"kelly_capped":    kelly,
		"capital_at_risk": capitalAtRisk,
		"stop_distance":   features.StopDistance,
		"min_size":        cfg.MinSize,
		"max_size":        cfg.MaxSize,
	}
	if features.StopDistance <= 0 {
		return reject(GateSizing, "non-positive stop distance", sizeValues)
	}
	if kelly <= 0 {
		return reject(GateSizing, "no positive edge in trade history", sizeValues)
	}

	rawSize := kelly * capitalAtRisk / features.StopDistance
	size := utils.RoundToLotSize(utils.Clamp(rawSize, cfg.MinSize, cfg.MaxSize), cfg.LotStep)
	if size < cfg.MinSize {
		size = cfg.MinSize
	}
	resized := rawSize > cfg.MaxSize

	sizeValues["raw_size"] = rawSize
	sizeValues["size"] = size
	pass(GateSizing, sizeValues)

	// 7. VaR: проекция портфельного VaR после добавления позиции
	projected := in.Metrics.VaR + size*features.StopDistance
	ceiling := in.Account.Equity * cfg.VaRCeiling
	varValues := map[string]float64{
		"current_var":   in.Metrics.VaR,
		"projected_var": projected,
		"ceiling":       ceiling,
		"confidence":    cfg.VaRConfidence,
	}
	if projected > ceiling {
		return reject(GateVaR, "projected portfolio VaR exceeds ceiling", varValues)
	}
	pass(GateVaR, varValues)

	if resized {
		// Сырой объём превысил риск-бюджет: режем, а не отвергаем
		return Decision{
			Outcome: models.OutcomeResize,
			Size:    size,
			Reason:  "raw size exceeds risk budget cap",
			Audit:   audit,
		}
	}
	return Decision{Outcome: models.OutcomeApprove, Size: size, Audit: audit}
}
