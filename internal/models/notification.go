package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`           // ORDER, FILL, APPROVAL, CONNECTION, RISK, ERROR, PAUSE
	Severity  string                 `json:"severity" db:"severity"`   // info, warn, error
	PlanID    *string                `json:"plan_id,omitempty" db:"plan_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOrder      = "ORDER"      // отправка ордера брокеру
	NotificationTypeFill       = "FILL"       // исполнение ордера
	NotificationTypeApproval   = "APPROVAL"   // запрос/результат подтверждения плана
	NotificationTypeConnection = "CONNECTION" // смена состояния сессии с брокером
	NotificationTypeRisk       = "RISK"       // отказ/resize от Gating Engine
	NotificationTypeError      = "ERROR"      // ошибка API/ордера
	NotificationTypePause      = "PAUSE"      // пауза/остановка торговли
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
