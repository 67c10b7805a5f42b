package store

import (
	"time"

	"orchestrator/internal/models"
)

// EventType - тип события Store
type EventType string

const (
	EventPositionOpened  EventType = "position_opened"
	EventPositionUpdated EventType = "position_updated"
	EventPositionClosed  EventType = "position_closed"
	EventAccountUpdated  EventType = "account_updated"
)

// Event - уведомление об изменении состояния
//
// Заполнено только поле, соответствующее типу события.
// Все данные - копии, получатель может держать их сколько угодно.
type Event struct {
	Type     EventType               `json:"type"`
	Position *models.Position        `json:"position,omitempty"`
	Trade    *models.ClosedTrade     `json:"trade,omitempty"`
	Account  *models.AccountSnapshot `json:"account,omitempty"`
	At       time.Time               `json:"at"`
}
