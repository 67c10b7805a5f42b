package models

import "time"

// RiskMetrics - производные риск-метрики портфеля
//
// Всегда пересчитываются по журналу закрытых сделок и кривой капитала,
// никогда не хранятся как авторитетные данные.
type RiskMetrics struct {
	VaR           float64   `json:"var"`            // Value at Risk на заданном уровне доверия
	VaRConfidence float64   `json:"var_confidence"` // уровень доверия (например, 0.95)
	Sharpe        float64   `json:"sharpe"`
	Drawdown      float64   `json:"drawdown"`       // текущая просадка (доля от пика equity)
	KellyFraction float64   `json:"kelly_fraction"` // до применения cap
	WinRate       float64   `json:"win_rate"`
	AvgWin        float64   `json:"avg_win"`
	AvgLoss       float64   `json:"avg_loss"`       // положительное число
	SampleSize    int       `json:"sample_size"`    // количество сделок в расчёте
	ComputedAt    time.Time `json:"computed_at"`
}
