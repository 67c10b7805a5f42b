package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orchestrator/internal/models"
)

// Broker определяет абстрактную capability торгового venue.
//
// Конкретный wire-протокол брокера сюда не входит: ядро работает
// только через этот интерфейс, адаптеры живут в своих пакетах.
type Broker interface {
	// Connect устанавливает сессию с брокером.
	// Ошибки аутентификации возвращаются как *AuthError и не повторяются.
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// Session - живая сессия с брокером
type Session interface {
	// SubmitOrder отправляет ордер. Отказ venue (невалидный объём,
	// недостаточно маржи) возвращается как *RejectError.
	SubmitOrder(ctx context.Context, spec OrderSpec) (*FillResult, error)

	// QueryAccount возвращает свежий снимок счёта
	QueryAccount(ctx context.Context) (*models.AccountSnapshot, error)

	// OpenPositions возвращает открытые позиции по данным брокера
	// (используется при сверке после рестарта/реконнекта)
	OpenPositions(ctx context.Context) ([]*models.Position, error)

	// Probe - лёгкая проверка живости сессии
	Probe(ctx context.Context) error

	// Reauth - облегчённая реаутентификация деградировавшей сессии
	// без полного рукопожатия
	Reauth(ctx context.Context) error

	// Close завершает сессию
	Close() error
}

// Credentials - учётные данные для подключения
//
// Хранятся в durable state зашифрованными (pkg/crypto),
// в память попадают только расшифрованными на время сессии.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"-"`
	Server   string `json:"server"`
}

// OrderSpec - параметры ордера
type OrderSpec struct {
	ClientOrderID string  `json:"client_order_id"` // идемпотентность на стороне ядра
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // long, short
	Volume        float64 `json:"volume"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	MagicID       int64   `json:"magic_id"`
	ClosePosition string  `json:"close_position,omitempty"` // id закрываемой позиции
}

// FillResult - подтверждённое брокером исполнение
type FillResult struct {
	FillID        string    `json:"fill_id"` // ключ идемпотентности State Store
	ClientOrderID string    `json:"client_order_id"`
	PositionID    string    `json:"position_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Volume        float64   `json:"volume"`
	Price         float64   `json:"price"`
	Closing       bool      `json:"closing"` // true если fill закрывает позицию
	Pnl           float64   `json:"pnl"`     // реализованный PnL для закрывающего fill
	MagicID       int64     `json:"magic_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// ============================================================
// Таксономия ошибок брокера
// ============================================================

// AuthError - ошибка аутентификации: фатальна, требует вмешательства
// оператора, авто-retry запрещён
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("broker auth failed: %s", e.Reason)
}

// Retryable - классификация для pkg/retry
func (e *AuthError) Retryable() bool { return false }

// ConnectionError - транзиентная сетевая ошибка: восстанавливается
// циклом реконнекта, операции встают в очередь
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error   { return e.Err }
func (e *ConnectionError) Retryable() bool { return true }
func (e *ConnectionError) Temporary() bool { return true }

// RejectError - отказ venue по существу ордера (невалидный объём, маржа).
// Возвращается вызывающему синхронно, не повторяется автоматически.
type RejectError struct {
	Code   string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("order rejected [%s]: %s", e.Code, e.Reason)
}

func (e *RejectError) Retryable() bool { return false }

// IsAuthError проверяет, является ли ошибка фатальной ошибкой аутентификации
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsConnectionError проверяет, является ли ошибка транзиентной сетевой
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsRejectError проверяет, является ли ошибка отказом venue
func IsRejectError(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}
