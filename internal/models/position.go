package models

import "time"

// Position представляет открытую позицию у брокера
//
// Владелец данных - State Store: все мутации проходят только через него.
// Наружу всегда отдаются копии, никогда внутренние указатели.
type Position struct {
	ID         string    `json:"id" db:"id"`                   // внутренний идентификатор позиции
	Symbol     string    `json:"symbol" db:"symbol"`
	Side       string    `json:"side" db:"side"`               // long, short
	Volume     float64   `json:"volume" db:"volume"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"` // средняя цена входа
	StopLoss   float64   `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64   `json:"take_profit" db:"take_profit"`
	OpenedAt   time.Time `json:"opened_at" db:"opened_at"`
	MagicID    int64     `json:"magic_id" db:"magic_id"`       // корреляционный id (отличает наши ордера от ручных)
}

// ClosedTrade - запись в журнале закрытых сделок
//
// Позиции не удаляются из истории: при закрытии переносятся сюда.
// Журнал - источник данных для расчёта RiskMetrics (VaR, Sharpe, Kelly).
type ClosedTrade struct {
	ID         int       `json:"id" db:"id"`
	PositionID string    `json:"position_id" db:"position_id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Side       string    `json:"side" db:"side"`
	Volume     float64   `json:"volume" db:"volume"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"`
	ExitPrice  float64   `json:"exit_price" db:"exit_price"`
	Pnl        float64   `json:"pnl" db:"pnl"`
	Reason     string    `json:"reason" db:"reason"` // причина закрытия
	MagicID    int64     `json:"magic_id" db:"magic_id"`
	OpenedAt   time.Time `json:"opened_at" db:"opened_at"`
	ClosedAt   time.Time `json:"closed_at" db:"closed_at"`
}

// Направления позиции
const (
	SideLong  = "long"  // длинная позиция (ставка на рост)
	SideShort = "short" // короткая позиция (ставка на падение)
)

// Причины закрытия позиции
const (
	CloseReasonSignal    = "signal"     // закрытие по сигналу
	CloseReasonStopLoss  = "stop_loss"  // срабатывание Stop Loss
	CloseReasonTakeProf  = "take_profit"
	CloseReasonOperator  = "operator"   // ручное закрытие оператором
	CloseReasonShutdown  = "shutdown"
	CloseReasonReconcile = "reconcile"  // позиция исчезла у брокера при сверке
)
