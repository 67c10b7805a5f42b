package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

// Канал уведомлений и входящих команд оператора
//
// Доставка наружу (telegram, почта, вебхук) строго best-effort:
// DeliveryError логируется и никогда не блокирует и не роняет
// мутации ядра.

// ErrCommandQueueFull - очередь команд к ядру переполнена
var ErrCommandQueueFull = fmt.Errorf("command queue full")

// DeliveryError - сбой доставки во внешний канал
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification delivery via %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Notifier - внешний канал доставки уведомлений
type Notifier interface {
	// Name - имя канала для логов
	Name() string

	// Send доставляет уведомление; ошибка оборачивается в DeliveryError
	Send(ctx context.Context, notif *models.Notification) error
}

// Broadcaster транслирует уведомления подключённым UI-клиентам
// (интерфейс разрывает цикл пакетов с websocket hub)
type Broadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// Repository - durable-журнал уведомлений
type Repository interface {
	Create(notif *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	KeepRecent(keepCount int) (int64, error)
}

// ============================================================
// Команды оператора
// ============================================================

// Виды входящих команд
const (
	CommandPause   = "pause"
	CommandResume  = "resume"
	CommandStop    = "stop"
	CommandStatus  = "status"
	CommandConfirm = "confirm" // код подтверждения плана
)

// Command - команда оператора из внешнего канала
type Command struct {
	Kind       string    `json:"kind"`
	PlanID     string    `json:"plan_id,omitempty"` // для confirm
	Code       string    `json:"code,omitempty"`    // для confirm
	ReceivedAt time.Time `json:"received_at"`
}

// ValidCommand проверяет вид команды
func ValidCommand(kind string) bool {
	switch kind {
	case CommandPause, CommandResume, CommandStop, CommandStatus, CommandConfirm:
		return true
	default:
		return false
	}
}

// ============================================================
// Service
// ============================================================

// Service - точка публикации уведомлений и приёма команд
type Service struct {
	repo      Repository
	hub       Broadcaster
	notifiers []Notifier
	keepCount int

	commands chan Command

	log *utils.Logger
}

// NewService создаёт сервис уведомлений
//
// repo и hub могут быть nil (dev-режим без БД и UI).
func NewService(repo Repository, keepCount int, log *utils.Logger) *Service {
	if keepCount <= 0 {
		keepCount = 100
	}
	if log == nil {
		log = utils.L()
	}
	return &Service{
		repo:      repo,
		keepCount: keepCount,
		commands:  make(chan Command, 64),
		log:       log.WithComponent("notify"),
	}
}

// SetBroadcaster устанавливает WebSocket hub
// (вызывается из main.go после инициализации hub'а)
func (s *Service) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

// AddNotifier добавляет внешний канал доставки
func (s *Service) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Publish сохраняет уведомление и рассылает его по всем каналам
//
// Ошибка durable-записи возвращается вызывающему; сбои внешней
// доставки только логируются.
func (s *Service) Publish(ctx context.Context, notif *models.Notification) error {
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	if s.repo != nil {
		if err := s.repo.Create(notif); err != nil {
			return err
		}
		if _, err := s.repo.KeepRecent(s.keepCount); err != nil {
			s.log.Warn("notification journal cleanup failed", utils.Err(err))
		}
	}

	if s.hub != nil {
		s.hub.BroadcastNotification(notif)
	}

	for _, n := range s.notifiers {
		notifier := n
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := notifier.Send(sendCtx, notif); err != nil {
				s.log.Warn("notification delivery failed",
					utils.String("channel", notifier.Name()),
					utils.Err(&DeliveryError{Channel: notifier.Name(), Err: err}))
			}
		}()
	}

	return nil
}

// Recent возвращает последние уведомления с фильтрацией по типам
func (s *Service) Recent(types []string, limit int) ([]*models.Notification, error) {
	if s.repo == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) > 0 {
		return s.repo.GetByTypes(normalized, limit)
	}
	return s.repo.GetRecent(limit)
}

// Commands возвращает поток входящих команд оператора
func (s *Service) Commands() <-chan Command {
	return s.commands
}

// SubmitCommand ставит команду в очередь ядру
func (s *Service) SubmitCommand(cmd Command) error {
	if !ValidCommand(cmd.Kind) {
		return fmt.Errorf("unknown command %q", cmd.Kind)
	}
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = time.Now()
	}

	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// ============================================================
// Помощники публикации
// ============================================================

// PublishFill - уведомление об исполнении ордера
func (s *Service) PublishFill(ctx context.Context, message string, meta map[string]interface{}) error {
	return s.Publish(ctx, &models.Notification{
		Type:     models.NotificationTypeFill,
		Severity: models.SeverityInfo,
		Message:  message,
		Meta:     meta,
	})
}

// PublishConnection - уведомление о смене состояния сессии
func (s *Service) PublishConnection(ctx context.Context, message string, severity string) error {
	return s.Publish(ctx, &models.Notification{
		Type:     models.NotificationTypeConnection,
		Severity: severity,
		Message:  message,
	})
}

// PublishApproval - уведомление о запросе/результате подтверждения
func (s *Service) PublishApproval(ctx context.Context, planID, message string) error {
	return s.Publish(ctx, &models.Notification{
		Type:     models.NotificationTypeApproval,
		Severity: models.SeverityWarn,
		PlanID:   &planID,
		Message:  message,
	})
}

// PublishRisk - уведомление об отказе/resize Gating Engine
func (s *Service) PublishRisk(ctx context.Context, planID, message string, meta map[string]interface{}) error {
	notif := &models.Notification{
		Type:     models.NotificationTypeRisk,
		Severity: models.SeverityWarn,
		Message:  message,
		Meta:     meta,
	}
	if planID != "" {
		notif.PlanID = &planID
	}
	return s.Publish(ctx, notif)
}

// PublishError - уведомление об ошибке
func (s *Service) PublishError(ctx context.Context, message string, meta map[string]interface{}) error {
	return s.Publish(ctx, &models.Notification{
		Type:     models.NotificationTypeError,
		Severity: models.SeverityError,
		Message:  message,
		Meta:     meta,
	})
}

// PublishPause - уведомление о паузе/остановке торговли
func (s *Service) PublishPause(ctx context.Context, message string) error {
	return s.Publish(ctx, &models.Notification{
		Type:     models.NotificationTypePause,
		Severity: models.SeverityWarn,
		Message:  message,
	})
}
