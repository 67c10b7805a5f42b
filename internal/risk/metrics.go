package risk

import (
	"math"
	"sort"
	"time"

	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

// Производные риск-метрики портфеля
//
// Всегда пересчитываются по журналу закрытых сделок и кривой капитала.
// Никогда не кешируются как авторитетные данные: после рестарта
// результат идентичен, если идентичен журнал.

// ComputeMetrics вычисляет метрики по журналу сделок и кривой капитала
//
// confidence - уровень доверия VaR (например, 0.95).
func ComputeMetrics(trades []models.ClosedTrade, equity []models.EquityPoint, confidence float64) models.RiskMetrics {
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}

	m := models.RiskMetrics{
		VaRConfidence: confidence,
		SampleSize:    len(trades),
		ComputedAt:    time.Now(),
	}

	if len(trades) > 0 {
		pnls := make([]float64, len(trades))
		for i, trade := range trades {
			pnls[i] = trade.Pnl
		}

		m.VaR = historicalVaR(pnls, confidence)
		m.Sharpe = sharpe(pnls)
		m.WinRate, m.AvgWin, m.AvgLoss = winStats(pnls)
		m.KellyFraction = kellyFraction(m.WinRate, m.AvgWin, m.AvgLoss)
	}

	m.Drawdown = currentDrawdown(equity)
	return m
}

// historicalVaR - исторический VaR: потеря на хвостовом перцентиле выборки PnL
//
// Возвращает положительное число (величину потери). 0 если хвост прибыльный.
func historicalVaR(pnls []float64, confidence float64) float64 {
	sorted := make([]float64, len(pnls))
	copy(sorted, pnls)
	sort.Float64s(sorted)

	tail := utils.Percentile(sorted, 1-confidence)
	if tail >= 0 {
		return 0
	}
	return -tail
}

// sharpe - отношение среднего PnL сделки к его разбросу
func sharpe(pnls []float64) float64 {
	mean, std := utils.MeanStd(pnls)
	if std == 0 {
		return 0
	}
	return mean / std
}

// winStats возвращает долю выигрышей, средний выигрыш и средний проигрыш
// (AvgLoss - положительное число)
func winStats(pnls []float64) (winRate, avgWin, avgLoss float64) {
	var wins, losses int
	var winSum, lossSum float64

	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
			winSum += pnl
		} else if pnl < 0 {
			losses++
			lossSum += -pnl
		}
	}

	total := wins + losses
	if total == 0 {
		return 0, 0, 0
	}

	winRate = float64(wins) / float64(total)
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	return winRate, avgWin, avgLoss
}

// kellyFraction - доля капитала по формуле Келли: W - (1-W)/R, R = avgWin/avgLoss
//
// Отрицательное ожидание даёт 0: ставить нечего.
func kellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}

	r := avgWin / avgLoss
	kelly := winRate - (1-winRate)/r
	if kelly < 0 || math.IsNaN(kelly) || math.IsInf(kelly, 0) {
		return 0
	}
	return kelly
}

// currentDrawdown - текущая просадка как доля от пика equity
func currentDrawdown(equity []models.EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}

	peak := equity[0].Equity
	for _, point := range equity {
		if point.Equity > peak {
			peak = point.Equity
		}
	}
	if peak <= 0 {
		return 0
	}

	last := equity[len(equity)-1].Equity
	dd := (peak - last) / peak
	if dd < 0 {
		return 0
	}
	return dd
}
