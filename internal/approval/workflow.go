package approval

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

// Action Approval Workflow
//
// Оборачивает многошаговый план от внешнего генератора проверкой схемы,
// policy-правилами и опциональным подтверждением человеком, прежде чем
// шаги плана попадут в Gating Engine.
//
// Состояния плана и допустимые переходы - в plan_machine.go. Истёкший
// или отклонённый план не исполняется ни на один шаг.

// Ошибки workflow
var (
	ErrPlanNotFound  = fmt.Errorf("plan not found or already resolved")
	ErrWorkflowDown  = fmt.Errorf("approval workflow is shut down")
	ErrCodeMismatch  = fmt.Errorf("confirmation code mismatch")
)

// Config - настройки workflow
type Config struct {
	// Window - окно ожидания кода подтверждения
	Window time.Duration

	// AllowedTags - allow-list policy-тегов (пусто = любой тег)
	AllowedTags []string

	// AutoApproveTags - low-risk классы, которым разрешён auto-approve
	// без человека (если сам план не требует подтверждения)
	AutoApproveTags []string
}

// DefaultConfig - значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Window: 60 * time.Second,
	}
}

// Resolution - разрешённый план для исполнителя
//
// Исполняются только планы с IsExecutable(Plan.State) == true;
// остальные нужны для audit-записи.
type Resolution struct {
	Plan   models.ActionPlan
	Detail string
}

// Dispatcher доставляет код подтверждения оператору
// (best-effort: ошибка доставки логируется, план остаётся в ожидании)
type Dispatcher func(plan *models.ActionPlan, code string) error

// pendingPlan - план в ожидании кода
type pendingPlan struct {
	plan  *models.ActionPlan
	code  string
	timer *time.Timer
}

// Workflow управляет жизненным циклом планов
type Workflow struct {
	cfg      Config
	dispatch Dispatcher
	log      *utils.Logger

	mu      sync.Mutex
	pending map[string]*pendingPlan
	closed  bool

	resolved chan Resolution
}

// New создаёт workflow
func New(cfg Config, dispatch Dispatcher, log *utils.Logger) *Workflow {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if log == nil {
		log = utils.L()
	}
	return &Workflow{
		cfg:      cfg,
		dispatch: dispatch,
		log:      log.WithComponent("approval"),
		pending:  make(map[string]*pendingPlan),
		resolved: make(chan Resolution, 256),
	}
}

// Resolved возвращает канал разрешённых планов
func (w *Workflow) Resolved() <-chan Resolution {
	return w.resolved
}

// PendingCount возвращает количество планов в ожидании подтверждения
func (w *Workflow) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// transition переводит план в новое состояние с контролем допустимости
func (w *Workflow) transition(plan *models.ActionPlan, to string) error {
	if !CanTransition(plan.State, to) {
		return fmt.Errorf("invalid plan transition %s -> %s", plan.State, to)
	}
	w.log.Info("plan state changed",
		utils.PlanID(plan.ID),
		utils.String("from", plan.State),
		utils.State(to))
	plan.State = to
	return nil
}

// Submit принимает план и проводит его через схему и policy
//
// Возвращает план в состоянии AutoApproved / PendingHuman / Rejected.
// Терминальные и auto-approved планы сразу публикуются в Resolved.
func (w *Workflow) Submit(plan *models.ActionPlan) (*models.ActionPlan, error) {
	if plan == nil {
		return nil, fmt.Errorf("nil plan")
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWorkflowDown
	}
	w.mu.Unlock()

	plan.State = models.PlanStateProposed
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}

	// Схема: структурно невалидный план отклоняется немедленно,
	// ни один шаг не исполняется
	if err := validateSchema(plan); err != nil {
		w.resolve(plan, models.PlanStateRejected, fmt.Sprintf("schema: %v", err))
		return plan, nil
	}
	if err := w.transition(plan, models.PlanStateSchemaValid); err != nil {
		return nil, err
	}

	// Policy-правила
	if err := w.checkPolicy(plan); err != nil {
		w.resolve(plan, models.PlanStateRejected, fmt.Sprintf("policy: %v", err))
		return plan, nil
	}
	if err := w.transition(plan, models.PlanStatePolicyChecked); err != nil {
		return nil, err
	}

	// Auto-approve разрешён только low-risk классам, когда сам план
	// не требует человека в контуре
	if !plan.RequireApproval && w.autoApprovable(plan.PolicyTag) {
		w.resolve(plan, models.PlanStateAutoApproved, "low-risk policy class")
		return plan, nil
	}

	if err := w.park(plan); err != nil {
		return nil, err
	}

	// Запаркованный план принадлежит workflow: expire и Confirm мутируют
	// его из других goroutine. Вызывающему - отдельная копия снимка.
	snapshot := *plan
	return &snapshot, nil
}

// park переводит план в ожидание кода подтверждения
func (w *Workflow) park(plan *models.ActionPlan) error {
	if err := w.transition(plan, models.PlanStatePendingHuman); err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate confirmation code: %w", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.resolve(plan, models.PlanStateExpired, "workflow shut down")
		return nil
	}
	entry := &pendingPlan{plan: plan, code: code}
	entry.timer = time.AfterFunc(w.cfg.Window, func() { w.expire(plan.ID) })
	w.pending[plan.ID] = entry
	w.mu.Unlock()

	// Доставка кода best-effort: сбой канала уведомлений не роняет
	// план, оператор может запросить статус повторно
	if w.dispatch != nil {
		if err := w.dispatch(plan, code); err != nil {
			w.log.Error("confirmation code dispatch failed",
				utils.PlanID(plan.ID),
				utils.Err(err))
		}
	}

	w.log.Info("plan awaiting human confirmation",
		utils.PlanID(plan.ID),
		utils.String("window", w.cfg.Window.String()))
	return nil
}

// Confirm сопоставляет код подтверждения
//
// Совпадение до истечения окна -> Approved. Несовпадение -> Rejected:
// код одноразовый, перебор не допускается.
func (w *Workflow) Confirm(planID, code string) error {
	w.mu.Lock()
	entry, ok := w.pending[planID]
	if !ok {
		w.mu.Unlock()
		return ErrPlanNotFound
	}
	delete(w.pending, planID)
	entry.timer.Stop()
	w.mu.Unlock()

	if entry.code != strings.TrimSpace(code) {
		w.resolve(entry.plan, models.PlanStateRejected, "confirmation code mismatch")
		return ErrCodeMismatch
	}

	w.resolve(entry.plan, models.PlanStateApproved, "confirmed by operator")
	return nil
}

// Cancel отклоняет план в ожидании (явный отказ оператора)
func (w *Workflow) Cancel(planID, reason string) error {
	w.mu.Lock()
	entry, ok := w.pending[planID]
	if !ok {
		w.mu.Unlock()
		return ErrPlanNotFound
	}
	delete(w.pending, planID)
	entry.timer.Stop()
	w.mu.Unlock()

	if reason == "" {
		reason = "cancelled by operator"
	}
	w.resolve(entry.plan, models.PlanStateRejected, reason)
	return nil
}

// expire срабатывает по таймеру окна подтверждения
func (w *Workflow) expire(planID string) {
	w.mu.Lock()
	entry, ok := w.pending[planID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, planID)
	w.mu.Unlock()

	w.resolve(entry.plan, models.PlanStateExpired, "confirmation window elapsed")
}

// Shutdown истекает все ожидающие планы и закрывает workflow
//
// Ожидание человека не переживает остановку процесса: оператор
// подтвердит заново после рестарта.
func (w *Workflow) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	entries := make([]*pendingPlan, 0, len(w.pending))
	for _, entry := range w.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
	}
	w.pending = make(map[string]*pendingPlan)
	w.mu.Unlock()

	for _, entry := range entries {
		w.resolve(entry.plan, models.PlanStateExpired, "shutdown")
	}
}

// ExpireAll принудительно истекает все ожидающие планы, не закрывая workflow
//
// Вызывается при команде stop: останов торговли снимает смысл любого
// ожидающего подтверждения, после resume планы подаются заново.
func (w *Workflow) ExpireAll(detail string) {
	if detail == "" {
		detail = "expired by operator"
	}

	w.mu.Lock()
	entries := make([]*pendingPlan, 0, len(w.pending))
	for _, entry := range w.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
	}
	w.pending = make(map[string]*pendingPlan)
	w.mu.Unlock()

	for _, entry := range entries {
		w.resolve(entry.plan, models.PlanStateExpired, detail)
	}
}

// resolve фиксирует терминальное состояние и публикует план
func (w *Workflow) resolve(plan *models.ActionPlan, state, detail string) {
	if plan.State != state {
		if err := w.transition(plan, state); err != nil {
			// Недопустимый терминальный переход - дефект вызова
			w.log.Error("plan resolution failed", utils.PlanID(plan.ID), utils.Err(err))
			return
		}
	}

	select {
	case w.resolved <- Resolution{Plan: *plan, Detail: detail}:
	default:
		w.log.Error("resolution channel full, plan resolution dropped",
			utils.PlanID(plan.ID),
			utils.State(plan.State))
	}
}

// ============================================================
// Проверки
// ============================================================

// validateSchema проверяет структурный контракт плана
func validateSchema(plan *models.ActionPlan) error {
	if plan.ID == "" {
		return fmt.Errorf("missing plan id")
	}
	if len(plan.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if plan.Mode != models.ModeLive && plan.Mode != models.ModePaper {
		return fmt.Errorf("unknown mode %q", plan.Mode)
	}

	for i, step := range plan.Steps {
		switch step.Kind {
		case models.StepKindOpen:
			if step.Signal == nil {
				return fmt.Errorf("step %d: open without signal", i)
			}
			if step.Signal.Symbol == "" {
				return fmt.Errorf("step %d: signal without symbol", i)
			}
		case models.StepKindClose, models.StepKindModify:
			if step.PositionID == "" {
				return fmt.Errorf("step %d: %s without position id", i, step.Kind)
			}
		default:
			return fmt.Errorf("step %d: unknown kind %q", i, step.Kind)
		}
		if step.Symbol == "" {
			return fmt.Errorf("step %d: missing symbol", i)
		}
	}
	return nil
}

// checkPolicy применяет policy-правила
func (w *Workflow) checkPolicy(plan *models.ActionPlan) error {
	// LIVE-режим без явных границ объёма запрещён
	if plan.Mode == models.ModeLive {
		for i, step := range plan.Steps {
			if step.Kind == models.StepKindOpen && step.MaxVolume <= 0 {
				return fmt.Errorf("step %d: live mode requires explicit size bound", i)
			}
		}
	}

	if len(w.cfg.AllowedTags) > 0 {
		allowed := false
		for _, tag := range w.cfg.AllowedTags {
			if tag == plan.PolicyTag {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("policy tag %q not in allow-list", plan.PolicyTag)
		}
	}
	return nil
}

func (w *Workflow) autoApprovable(tag string) bool {
	for _, t := range w.cfg.AutoApproveTags {
		if t == tag {
			return true
		}
	}
	return false
}

// generateCode - одноразовый код подтверждения
func generateCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
