package websocket

import (
	"time"

	"orchestrator/internal/models"
	"orchestrator/internal/store"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSnapshot - полный снимок состояния
	// Отправляется клиенту один раз при подключении
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeNotification - новое уведомление
	MessageTypeNotification MessageType = "notification"

	// MessageTypePosition - открытие/изменение позиции
	MessageTypePosition MessageType = "position"

	// MessageTypeTrade - закрытая сделка
	MessageTypeTrade MessageType = "trade"

	// MessageTypeAccount - обновление снимка счёта
	MessageTypeAccount MessageType = "account"

	// MessageTypeConnection - смена состояния сессии с брокером
	MessageTypeConnection MessageType = "connectionState"
)

// BaseMessage - общая шапка всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// SnapshotMessage - полный снимок состояния при подключении
type SnapshotMessage struct {
	BaseMessage
	Data store.Snapshot `json:"data"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// PositionMessage - сообщение об открытии или изменении позиции
type PositionMessage struct {
	BaseMessage
	Data *models.Position `json:"data"`
}

// TradeMessage - сообщение о закрытой сделке
type TradeMessage struct {
	BaseMessage
	Data *models.ClosedTrade `json:"data"`
}

// AccountMessage - сообщение об обновлении счёта
type AccountMessage struct {
	BaseMessage
	Data *models.AccountSnapshot `json:"data"`
}

// ConnectionMessage - сообщение о смене состояния сессии
type ConnectionMessage struct {
	BaseMessage
	From string `json:"from"`
	To   string `json:"to"`
}

// ============================================================
// Фабрики сообщений
// ============================================================

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// NewSnapshotMessage создаёт сообщение с полным снимком
func NewSnapshotMessage(snap store.Snapshot) *SnapshotMessage {
	return &SnapshotMessage{BaseMessage: newBase(MessageTypeSnapshot), Data: snap}
}

// NewNotificationMessage создаёт сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{BaseMessage: newBase(MessageTypeNotification), Data: notif}
}

// NewConnectionMessage создаёт сообщение о смене состояния сессии
func NewConnectionMessage(from, to string) *ConnectionMessage {
	return &ConnectionMessage{BaseMessage: newBase(MessageTypeConnection), From: from, To: to}
}

// FromStoreEvent переводит событие Store в WebSocket сообщение
// (nil для неизвестных типов событий)
func FromStoreEvent(event store.Event) interface{} {
	base := BaseMessage{Timestamp: event.At}

	switch event.Type {
	case store.EventPositionOpened, store.EventPositionUpdated:
		base.Type = MessageTypePosition
		return &PositionMessage{BaseMessage: base, Data: event.Position}
	case store.EventPositionClosed:
		base.Type = MessageTypeTrade
		return &TradeMessage{BaseMessage: base, Data: event.Trade}
	case store.EventAccountUpdated:
		base.Type = MessageTypeAccount
		return &AccountMessage{BaseMessage: base, Data: event.Account}
	default:
		return nil
	}
}
