package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orchestrator/internal/approval"
	"orchestrator/internal/broker"
	"orchestrator/internal/conn"
	"orchestrator/internal/models"
	"orchestrator/internal/notify"
	"orchestrator/internal/risk"
	"orchestrator/internal/store"
	"orchestrator/pkg/utils"
)

// Engine - оркестратор торгового цикла
//
// Склеивает компоненты: разрешённые планы из Approval Workflow идут
// шаг за шагом через Gating Engine в Connection Manager, подтверждённые
// fill'ы - в State Store. Владеет периодикой (обновление счёта, кривая
// капитала) и циклом команд оператора.
//
// Store lock никогда не удерживается через I/O: движок читает снимок,
// принимает решение и только потом ходит к брокеру.

// EngineState - состояние движка
type EngineState int32

const (
	EngineStopped EngineState = iota
	EngineRunning
	EnginePaused
)

func (s EngineState) String() string {
	switch s {
	case EngineStopped:
		return "stopped"
	case EngineRunning:
		return "running"
	case EnginePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// AuditJournal - durable-журнал решений и разрешений
// (реализуется repository.AuditRepository; nil = без журнала)
type AuditJournal interface {
	SaveDecision(audit *models.DecisionAudit) error
	SaveApproval(audit *models.ApprovalAudit) error
}

// Config - настройки движка
type Config struct {
	// Risk - настройки Gating Engine
	Risk risk.Config

	// MagicID - корреляционный id ордеров движка
	// (отличает наши позиции от открытых вручную)
	MagicID int64

	// AccountRefreshInterval - период опроса снимка счёта
	AccountRefreshInterval time.Duration

	// EquityInterval - период записи точки кривой капитала
	EquityInterval time.Duration

	// StepTimeout - таймаут исполнения одного шага плана
	StepTimeout time.Duration
}

// DefaultConfig - значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Risk:                   risk.DefaultConfig(),
		MagicID:                1,
		AccountRefreshInterval: 5 * time.Second,
		EquityInterval:         60 * time.Second,
		StepTimeout:            15 * time.Second,
	}
}

func (c *Config) validate() {
	if c.AccountRefreshInterval <= 0 {
		c.AccountRefreshInterval = 5 * time.Second
	}
	if c.EquityInterval <= 0 {
		c.EquityInterval = 60 * time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 15 * time.Second
	}
	if c.MagicID == 0 {
		c.MagicID = 1
	}
}

// Engine связывает компоненты в торговый цикл
type Engine struct {
	cfg      Config
	conn     *conn.Manager
	store    *store.Store
	workflow *approval.Workflow
	notify   *notify.Service
	journal  AuditJournal
	log      *utils.Logger

	state int32 // atomic EngineState

	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewEngine создаёт движок и подключает callbacks менеджера соединения
func NewEngine(cfg Config, cm *conn.Manager, st *store.Store, wf *approval.Workflow, ns *notify.Service, journal AuditJournal, log *utils.Logger) *Engine {
	cfg.validate()
	if log == nil {
		log = utils.L()
	}

	e := &Engine{
		cfg:       cfg,
		conn:      cm,
		store:     st,
		workflow:  wf,
		notify:    ns,
		journal:   journal,
		log:       log.WithComponent("trader"),
		closeChan: make(chan struct{}),
	}

	cm.SetOnFill(e.applyFill)
	cm.SetStaleCheck(e.isStale)
	cm.SetOnStateChange(e.onConnStateChange)

	return e
}

// State возвращает состояние движка
func (e *Engine) State() EngineState {
	return EngineState(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(next EngineState) {
	prev := EngineState(atomic.SwapInt32(&e.state, int32(next)))
	if prev != next {
		e.log.Info("engine state changed",
			utils.String("from", prev.String()),
			utils.State(next.String()))
	}
}

// SubmitPlan передаёт план в Approval Workflow
//
// Разрешённый план вернётся в движок через канал Resolved и будет
// исполнен, если движок не на паузе.
func (e *Engine) SubmitPlan(plan *models.ActionPlan) (*models.ActionPlan, error) {
	return e.workflow.Submit(plan)
}

// Run запускает основной цикл движка
func (e *Engine) Run(ctx context.Context) {
	e.setState(EngineRunning)
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop останавливает движок
func (e *Engine) Stop() {
	e.closeOnce.Do(func() {
		close(e.closeChan)
	})
	e.wg.Wait()
	e.setState(EngineStopped)
}

// loop - единственная горутина, принимающая решения
//
// Последовательная обработка убирает гонки между командами оператора,
// разрешёнными планами и периодикой.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	accountTicker := time.NewTicker(e.cfg.AccountRefreshInterval)
	equityTicker := time.NewTicker(e.cfg.EquityInterval)
	defer accountTicker.Stop()
	defer equityTicker.Stop()

	for {
		select {
		case <-e.closeChan:
			return
		case <-ctx.Done():
			return

		case cmd := <-e.notify.Commands():
			e.handleCommand(ctx, cmd)

		case res := <-e.workflow.Resolved():
			e.handleResolution(ctx, res)

		case <-accountTicker.C:
			e.refreshAccount(ctx)

		case <-equityTicker.C:
			e.recordEquity()
		}
	}
}

// ============================================================
// Команды оператора
// ============================================================

func (e *Engine) handleCommand(ctx context.Context, cmd notify.Command) {
	e.log.Info("operator command received", utils.String("kind", cmd.Kind))

	switch cmd.Kind {
	case notify.CommandPause:
		e.setState(EnginePaused)
		e.publishPause(ctx, "trading paused by operator")

	case notify.CommandResume:
		e.setState(EngineRunning)
		e.publishPause(ctx, "trading resumed by operator")

	case notify.CommandStop:
		e.setState(EngineStopped)
		// Останов обессмысливает ожидающие подтверждения: планы истекают,
		// после возобновления торговли их подают заново
		e.workflow.ExpireAll("trading stopped by operator")
		e.publishPause(ctx, "trading stopped by operator")

	case notify.CommandStatus:
		status := e.Status()
		e.publishInfo(ctx, fmt.Sprintf(
			"engine %s, connection %s, %d open positions, %d queued ops, equity %.2f",
			status.Engine, status.Connection, status.OpenPositions, status.QueueDepth, status.Equity))

	case notify.CommandConfirm:
		if err := e.workflow.Confirm(cmd.PlanID, cmd.Code); err != nil {
			e.log.Warn("plan confirmation failed", utils.PlanID(cmd.PlanID), utils.Err(err))
			e.publishError(ctx, fmt.Sprintf("confirmation of plan %s failed: %v", cmd.PlanID, err))
		}
	}
}

// ============================================================
// Исполнение планов
// ============================================================

// handleResolution обрабатывает разрешённый план
//
// Неисполняемые планы только журналируются. Отказ шага прерывает
// остаток плана, в audit попадает частичный результат.
func (e *Engine) handleResolution(ctx context.Context, res approval.Resolution) {
	plan := res.Plan
	plansTotal.WithLabelValues(plan.State).Inc()

	audit := &models.ApprovalAudit{
		PlanID:     plan.ID,
		PolicyTag:  plan.PolicyTag,
		Resolution: plan.State,
		Detail:     res.Detail,
		StepsTotal: len(plan.Steps),
		CreatedAt:  time.Now(),
	}

	if !approval.IsExecutable(plan.State) {
		e.publishApproval(ctx, plan.ID, fmt.Sprintf("plan %s resolved as %s", plan.ID, plan.State))
		e.saveApproval(audit)
		return
	}

	if e.State() != EngineRunning {
		e.log.Warn("approved plan skipped, engine not running",
			utils.PlanID(plan.ID),
			utils.State(e.State().String()))
		audit.Detail = "engine not running, no steps executed"
		e.publishApproval(ctx, plan.ID, fmt.Sprintf("plan %s skipped: trading is %s", plan.ID, e.State()))
		e.saveApproval(audit)
		return
	}

	executed := 0
	for i := range plan.Steps {
		if !e.executeStep(ctx, &plan, i) {
			audit.Detail = fmt.Sprintf("aborted at step %d of %d", i+1, len(plan.Steps))
			break
		}
		executed++
	}
	audit.StepsExecuted = executed
	e.saveApproval(audit)
}

// executeStep исполняет один шаг; false прерывает план
func (e *Engine) executeStep(ctx context.Context, plan *models.ActionPlan, idx int) bool {
	step := plan.Steps[idx]

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	switch step.Kind {
	case models.StepKindOpen:
		return e.executeOpen(stepCtx, plan, idx)
	case models.StepKindClose:
		return e.executeClose(stepCtx, plan, idx)
	case models.StepKindModify:
		return e.executeModify(stepCtx, plan, idx)
	default:
		// Схема workflow не пропускает неизвестные шаги
		e.log.Error("unknown step kind reached executor", utils.String("kind", step.Kind))
		return false
	}
}

// executeOpen гонит кандидата через Gating Engine и отправляет ордер
func (e *Engine) executeOpen(ctx context.Context, plan *models.ActionPlan, idx int) bool {
	step := plan.Steps[idx]

	// Снимок читается до решения, I/O после: lock не пересекает сеть
	snap := e.store.Snapshot()
	metrics := risk.ComputeMetrics(snap.ClosedTrades, snap.Equity, e.cfg.Risk.VaRConfidence)

	decision := risk.Evaluate(risk.Input{
		Candidate:     *step.Signal,
		Account:       snap.Account,
		OpenPositions: snap.Positions,
		Metrics:       metrics,
		Now:           time.Now(),
	}, e.cfg.Risk)

	decisionsTotal.WithLabelValues(decision.Outcome).Inc()
	if decision.Outcome == models.OutcomeReject && len(decision.Audit) > 0 {
		gateRejectsTotal.WithLabelValues(decision.Audit[len(decision.Audit)-1].Gate).Inc()
	}

	e.saveDecision(&models.DecisionAudit{
		PlanID:    plan.ID,
		Symbol:    step.Signal.Symbol,
		Direction: step.Signal.Direction,
		Outcome:   decision.Outcome,
		Size:      decision.Size,
		Reason:    decision.Reason,
		Gates:     decision.Audit,
		CreatedAt: time.Now(),
	})

	if !decision.Approved() {
		e.log.Info("candidate rejected by gating engine",
			utils.PlanID(plan.ID),
			utils.Symbol(step.Signal.Symbol),
			utils.String("reason", decision.Reason))
		e.publishRisk(ctx, plan.ID, fmt.Sprintf("signal %s rejected: %s", step.Signal.Symbol, decision.Reason))
		return false
	}

	volume := decision.Size
	if step.MaxVolume > 0 && volume > step.MaxVolume {
		volume = step.MaxVolume
	}
	if decision.Outcome == models.OutcomeResize {
		e.publishRisk(ctx, plan.ID, fmt.Sprintf("signal %s resized to %.2f: %s",
			step.Signal.Symbol, volume, decision.Reason))
	}

	spec := broker.OrderSpec{
		ClientOrderID: stepOrderID(plan.ID, idx),
		Symbol:        step.Signal.Symbol,
		Side:          step.Signal.Direction,
		Volume:        volume,
		StopLoss:      step.StopLoss,
		TakeProfit:    step.TakeProfit,
		MagicID:       e.cfg.MagicID,
	}

	fill, err := e.conn.SubmitOrder(ctx, spec)
	return e.finishOrder(ctx, plan.ID, spec.Symbol, fill, err)
}

// executeClose отправляет закрывающий ордер
func (e *Engine) executeClose(ctx context.Context, plan *models.ActionPlan, idx int) bool {
	step := plan.Steps[idx]

	if !e.store.HasPosition(step.PositionID) {
		// Позиция уже закрыта (стоп у брокера, сверка) - шаг считается выполненным
		e.log.Info("close step skipped, position already gone",
			utils.PlanID(plan.ID),
			utils.PositionID(step.PositionID))
		return true
	}

	spec := broker.OrderSpec{
		ClientOrderID: stepOrderID(plan.ID, idx),
		Symbol:        step.Symbol,
		MagicID:       e.cfg.MagicID,
	}

	fill, err := e.conn.ClosePosition(ctx, step.PositionID, spec)
	return e.finishOrder(ctx, plan.ID, step.Symbol, fill, err)
}

// executeModify обновляет защитные уровни позиции
func (e *Engine) executeModify(ctx context.Context, plan *models.ActionPlan, idx int) bool {
	step := plan.Steps[idx]

	if err := e.store.ModifyPosition(step.PositionID, step.StopLoss, step.TakeProfit); err != nil {
		e.log.Warn("modify step failed",
			utils.PlanID(plan.ID),
			utils.PositionID(step.PositionID),
			utils.Err(err))
		e.publishError(ctx, fmt.Sprintf("modify of position %s failed: %v", step.PositionID, err))
		return false
	}
	return true
}

// finishOrder разбирает исход отправки ордера
//
// ErrQueued - шаг считается выполненным: операция воспроизведётся
// после восстановления соединения, fill придёт через applyFill.
// Отказ venue и прочие ошибки прерывают план.
func (e *Engine) finishOrder(ctx context.Context, planID, symbol string, fill *broker.FillResult, err error) bool {
	queueDepthGauge.Set(float64(e.conn.QueueDepth()))

	switch {
	case err == nil:
		ordersTotal.WithLabelValues(orderResultFilled).Inc()
		if _, applyErr := e.store.ApplyFill(fill); applyErr != nil {
			e.log.Error("fill not applied to state store", utils.FillID(fill.FillID), utils.Err(applyErr))
			e.publishError(ctx, fmt.Sprintf("fill %s not applied: %v", fill.FillID, applyErr))
			return false
		}
		openPositionsGauge.Set(float64(len(e.store.Snapshot().Positions)))
		e.publishFill(ctx, fill)
		return true

	case errors.Is(err, conn.ErrQueued):
		ordersTotal.WithLabelValues(orderResultQueued).Inc()
		e.publishInfo(ctx, fmt.Sprintf("order for %s queued until connection restored", symbol))
		return true

	case broker.IsRejectError(err):
		ordersTotal.WithLabelValues(orderResultRejected).Inc()
		e.log.Warn("order rejected by venue", utils.PlanID(planID), utils.Symbol(symbol), utils.Err(err))
		e.publishError(ctx, fmt.Sprintf("order for %s rejected: %v", symbol, err))
		return false

	default:
		ordersTotal.WithLabelValues(orderResultError).Inc()
		e.log.Error("order submission failed", utils.PlanID(planID), utils.Symbol(symbol), utils.Err(err))
		e.publishError(ctx, fmt.Sprintf("order for %s failed: %v", symbol, err))
		return false
	}
}

func stepOrderID(planID string, idx int) string {
	return fmt.Sprintf("%s-%d", planID, idx+1)
}

// ============================================================
// Callbacks менеджера соединения
// ============================================================

// applyFill применяет fill, исполненный при replay очереди
func (e *Engine) applyFill(fill *broker.FillResult) {
	applied, err := e.store.ApplyFill(fill)
	if err != nil {
		e.log.Error("replayed fill not applied", utils.FillID(fill.FillID), utils.Err(err))
		return
	}
	if !applied {
		return
	}

	ordersTotal.WithLabelValues(orderResultFilled).Inc()
	openPositionsGauge.Set(float64(len(e.store.Snapshot().Positions)))
	queueDepthGauge.Set(float64(e.conn.QueueDepth()))
	e.publishFill(context.Background(), fill)
}

// isStale - предикат устаревания отложенной операции
//
// Закрытие устарело, если позиции уже нет. Открытие устарело,
// если слот (symbol, magic) успели занять.
func (e *Engine) isStale(op conn.PendingOp) bool {
	switch op.Kind {
	case conn.OpClosePosition:
		return !e.store.HasPosition(op.Spec.ClosePosition)
	case conn.OpSubmitOrder:
		return !e.store.SlotFree(op.Spec.Symbol, op.Spec.MagicID)
	default:
		return false
	}
}

// onConnStateChange транслирует смену состояния сессии в метрики и уведомления
func (e *Engine) onConnStateChange(prev, next models.ConnectionState) {
	connStateGauge.Set(float64(next))
	queueDepthGauge.Set(float64(e.conn.QueueDepth()))

	severity := models.SeverityInfo
	if next == models.ConnDisconnected || next == models.ConnDegraded {
		severity = models.SeverityWarn
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.notify.PublishConnection(ctx, fmt.Sprintf("broker session %s -> %s", prev, next), severity); err != nil {
		e.log.Warn("connection notification not published", utils.Err(err))
	}
}

// ============================================================
// Периодика
// ============================================================

// refreshAccount опрашивает брокера и обновляет снимок счёта
func (e *Engine) refreshAccount(ctx context.Context) {
	if !e.conn.IsConnected() {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	snapshot, err := e.conn.QueryAccount(callCtx)
	if err != nil {
		e.log.Debug("account refresh failed", utils.Err(err))
		return
	}

	e.store.SetAccount(*snapshot)
	equityGauge.Set(snapshot.Equity)
}

// recordEquity добавляет точку кривой капитала
func (e *Engine) recordEquity() {
	account := e.store.Account()
	if account.IsZero() {
		return
	}
	e.store.RecordEquity(models.EquityPoint{
		Timestamp: time.Now(),
		Balance:   account.Balance,
		Equity:    account.Equity,
	})
}

// ============================================================
// Статус
// ============================================================

// Status - сводка состояния для API и команды status
type Status struct {
	Engine        string  `json:"engine"`
	Connection    string  `json:"connection"`
	QueueDepth    int     `json:"queue_depth"`
	PendingPlans  int     `json:"pending_plans"`
	OpenPositions int     `json:"open_positions"`
	Equity        float64 `json:"equity"`
	FatalError    string  `json:"fatal_error,omitempty"`
}

// Status собирает сводку состояния
func (e *Engine) Status() Status {
	snap := e.store.Snapshot()
	st := Status{
		Engine:        e.State().String(),
		Connection:    e.conn.State().String(),
		QueueDepth:    e.conn.QueueDepth(),
		PendingPlans:  e.workflow.PendingCount(),
		OpenPositions: len(snap.Positions),
		Equity:        snap.Account.Equity,
	}
	if err := e.conn.Err(); err != nil {
		st.FatalError = err.Error()
	}
	return st
}

// ============================================================
// Публикация и журнал
// ============================================================

func (e *Engine) saveDecision(audit *models.DecisionAudit) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveDecision(audit); err != nil {
		e.log.Warn("decision audit not persisted", utils.PlanID(audit.PlanID), utils.Err(err))
	}
}

func (e *Engine) saveApproval(audit *models.ApprovalAudit) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveApproval(audit); err != nil {
		e.log.Warn("approval audit not persisted", utils.PlanID(audit.PlanID), utils.Err(err))
	}
}

func (e *Engine) publishFill(ctx context.Context, fill *broker.FillResult) {
	action := "opened"
	if fill.Closing {
		action = "closed"
	}
	msg := fmt.Sprintf("position %s %s %.2f @ %.5f", fill.PositionID, action, fill.Volume, fill.Price)
	if err := e.notify.PublishFill(ctx, msg, map[string]interface{}{
		"fill_id": fill.FillID,
		"symbol":  fill.Symbol,
		"pnl":     fill.Pnl,
	}); err != nil {
		e.log.Warn("fill notification not published", utils.Err(err))
	}
}

func (e *Engine) publishApproval(ctx context.Context, planID, msg string) {
	if err := e.notify.PublishApproval(ctx, planID, msg); err != nil {
		e.log.Warn("approval notification not published", utils.Err(err))
	}
}

func (e *Engine) publishRisk(ctx context.Context, planID, msg string) {
	if err := e.notify.PublishRisk(ctx, planID, msg, nil); err != nil {
		e.log.Warn("risk notification not published", utils.Err(err))
	}
}

func (e *Engine) publishError(ctx context.Context, msg string) {
	if err := e.notify.PublishError(ctx, msg, nil); err != nil {
		e.log.Warn("error notification not published", utils.Err(err))
	}
}

func (e *Engine) publishPause(ctx context.Context, msg string) {
	if err := e.notify.PublishPause(ctx, msg); err != nil {
		e.log.Warn("pause notification not published", utils.Err(err))
	}
}

func (e *Engine) publishInfo(ctx context.Context, msg string) {
	if err := e.notify.PublishConnection(ctx, msg, models.SeverityInfo); err != nil {
		e.log.Warn("status notification not published", utils.Err(err))
	}
}
