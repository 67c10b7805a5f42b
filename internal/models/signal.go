package models

import "time"

// CandidateSignal - кандидат на открытие позиции от внешнего генератора сигналов
//
// Иммутабелен после создания, потребляется Gating Engine ровно один раз.
type CandidateSignal struct {
	Symbol     string          `json:"symbol"`
	Direction  string          `json:"direction"`  // long, short
	Confidence float64         `json:"confidence"` // 0.0 - 1.0
	Features   FeatureSnapshot `json:"features"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FeatureSnapshot - снимок рыночных признаков на момент генерации сигнала
//
// Используется гейтами: волатильность (ATR/Price), сила потока (MFI, RelVolume),
// торговая сессия (Timestamp). Sizing берёт StopDistance для расчёта объёма.
type FeatureSnapshot struct {
	Price          float64   `json:"price"`
	ATR            float64   `json:"atr"`             // Average True Range
	RelativeVolume float64   `json:"relative_volume"` // объём относительно среднего (1.0 = средний)
	MoneyFlowIndex float64   `json:"money_flow_index"`
	StopDistance   float64   `json:"stop_distance"`   // расстояние до стопа в валюте цены
	Timestamp      time.Time `json:"timestamp"`
}
