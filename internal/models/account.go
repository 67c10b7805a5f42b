package models

import "time"

// AccountSnapshot - моментальный снимок состояния счёта
//
// Иммутабельное значение: при каждом обновлении заменяется целиком,
// частичная мутация запрещена. Возраст снимка проверяется Gating Engine
// перед каждым решением (защита от торговли по устаревшим данным).
type AccountSnapshot struct {
	Balance     float64   `json:"balance"`
	Equity      float64   `json:"equity"`
	Margin      float64   `json:"margin"`
	FloatingPnl float64   `json:"floating_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}

// Age возвращает возраст снимка относительно указанного момента
func (s AccountSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// IsZero возвращает true если снимок ещё ни разу не обновлялся
func (s AccountSnapshot) IsZero() bool {
	return s.Timestamp.IsZero()
}

// EquityPoint - точка кривой капитала
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Balance   float64   `json:"balance" db:"balance"`
	Equity    float64   `json:"equity" db:"equity"`
}
