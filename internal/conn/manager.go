package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"orchestrator/internal/broker"
	"orchestrator/internal/models"
	"orchestrator/pkg/ratelimit"
	"orchestrator/pkg/retry"
	"orchestrator/pkg/utils"
)

// Имя сервиса в rate limiter'е: все исходящие вызовы брокера
// проходят через одно ведро
const ServiceBroker = "broker"

var (
	// ErrQueued - соединения нет, операция поставлена в очередь
	// и будет исполнена при восстановлении
	ErrQueued = errors.New("connection down, operation queued for replay")

	// ErrStale - отложенная операция отброшена как устаревшая
	ErrStale = errors.New("pending operation discarded as stale")

	// ErrStopped - менеджер остановлен, отложенные операции отброшены
	ErrStopped = errors.New("connection manager stopped")
)

// Config - конфигурация менеджера соединения
type Config struct {
	// Backoff определяет задержки между попытками рукопожатия.
	// MaxRetries игнорируется: транзиентные ошибки повторяются бесконечно,
	// пока менеджер не остановят.
	Backoff retry.Config

	// ProbeInterval - интервал health-check при активной сессии
	ProbeInterval time.Duration

	// ProbeStrikes - сколько подряд проваленных probe переводят в Degraded
	ProbeStrikes int

	// QueueCapacity - ёмкость очереди отложенных операций
	QueueCapacity int

	// OrderCost - стоимость отправки ордера в токенах rate limiter'а
	OrderCost float64

	// CallTimeout - таймаут одного вызова брокера
	CallTimeout time.Duration
}

// DefaultConfig - значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Backoff: retry.Config{
			InitialDelay: 1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		ProbeInterval: 15 * time.Second,
		ProbeStrikes:  3,
		QueueCapacity: 256,
		OrderCost:     1,
		CallTimeout:   10 * time.Second,
	}
}

func (c *Config) validate() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.ProbeStrikes <= 0 {
		c.ProbeStrikes = 3
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.OrderCost <= 0 {
		c.OrderCost = 1
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
}

// Manager владеет сессией с брокером и её жизненным циклом
//
// Единственный компонент, которому разрешено менять состояние соединения.
// Остальные читают состояние через State()/IsConnected().
//
// Жизненный цикл:
//   - Start запускает рукопожатие с exponential backoff
//   - при активной сессии периодический probe проверяет живость
//   - 3 подряд проваленных probe -> Degraded, попытка лёгкой реаутентификации
//   - неудачная реаутентификация -> Disconnected -> новый цикл рукопожатия
//   - ошибка аутентификации фатальна: авто-retry запрещён, нужен оператор
//
// Операции при отсутствии соединения встают в ограниченную FIFO очередь
// и воспроизводятся по порядку после восстановления.
type Manager struct {
	brk     broker.Broker
	creds   broker.Credentials
	limiter *ratelimit.Limiter
	cfg     Config
	log     *utils.Logger

	// Состояние
	state   int32 // atomic models.ConnectionState
	started int32 // atomic

	// Активная сессия
	session   broker.Session
	sessionMu sync.RWMutex

	// Фатальная ошибка (аутентификация)
	fatalErr error
	fatalMu  sync.Mutex

	queue *pendingQueue

	// Replay в процессе: свежие операции встают в хвост очереди,
	// а не обгоняют отложенные
	replaying bool
	replayMu  sync.Mutex

	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Callbacks
	onStateChange func(old, new models.ConnectionState)
	onFill        func(*broker.FillResult)
	staleCheck    func(PendingOp) bool
	callbackMu    sync.RWMutex
}

// NewManager создаёт менеджер соединения
func NewManager(brk broker.Broker, creds broker.Credentials, limiter *ratelimit.Limiter, cfg Config, log *utils.Logger) *Manager {
	cfg.validate()
	if log == nil {
		log = utils.L()
	}
	return &Manager{
		brk:       brk,
		creds:     creds,
		limiter:   limiter,
		cfg:       cfg,
		log:       log.WithComponent("conn"),
		queue:     newPendingQueue(cfg.QueueCapacity),
		closeChan: make(chan struct{}),
	}
}

// SetOnStateChange устанавливает callback смены состояния
// (трейдер транслирует его в метрики и WebSocket-поток)
func (m *Manager) SetOnStateChange(handler func(old, new models.ConnectionState)) {
	m.callbackMu.Lock()
	m.onStateChange = handler
	m.callbackMu.Unlock()
}

// SetOnFill устанавливает callback для fill'ов, исполненных при replay
// (синхронные fill'ы возвращаются вызывающему напрямую)
func (m *Manager) SetOnFill(handler func(*broker.FillResult)) {
	m.callbackMu.Lock()
	m.onFill = handler
	m.callbackMu.Unlock()
}

// SetStaleCheck устанавливает предикат устаревания отложенной операции
//
// Вызывается перед replay каждой операции: true = операция отброшена
// (например, закрываемая позиция уже закрыта). Защита от двойного исполнения.
func (m *Manager) SetStaleCheck(check func(PendingOp) bool) {
	m.callbackMu.Lock()
	m.staleCheck = check
	m.callbackMu.Unlock()
}

// State возвращает текущее состояние соединения
func (m *Manager) State() models.ConnectionState {
	return models.ConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет наличие активной сессии
func (m *Manager) IsConnected() bool {
	return m.State() == models.ConnConnected
}

// QueueDepth возвращает глубину очереди отложенных операций
func (m *Manager) QueueDepth() int {
	return m.queue.Len()
}

// Err возвращает фатальную ошибку (nil если её нет)
func (m *Manager) Err() error {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatalErr
}

func (m *Manager) setFatal(err error) {
	m.fatalMu.Lock()
	m.fatalErr = err
	m.fatalMu.Unlock()
}

// setState меняет состояние и уведомляет подписчика
func (m *Manager) setState(next models.ConnectionState) {
	prev := models.ConnectionState(atomic.SwapInt32(&m.state, int32(next)))
	if prev == next {
		return
	}

	m.log.Info("connection state changed",
		utils.String("from", prev.String()),
		utils.State(next.String()))

	m.callbackMu.RLock()
	handler := m.onStateChange
	m.callbackMu.RUnlock()

	if handler != nil {
		handler(prev, next)
	}
}

// casState - атомарная смена состояния только из ожидаемого
func (m *Manager) casState(from, to models.ConnectionState) bool {
	if !atomic.CompareAndSwapInt32(&m.state, int32(from), int32(to)) {
		return false
	}

	m.log.Info("connection state changed",
		utils.String("from", from.String()),
		utils.State(to.String()))

	m.callbackMu.RLock()
	handler := m.onStateChange
	m.callbackMu.RUnlock()

	if handler != nil {
		handler(from, to)
	}
	return true
}

func (m *Manager) getSession() broker.Session {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return m.session
}

func (m *Manager) setSession(s broker.Session) {
	m.sessionMu.Lock()
	m.session = s
	m.sessionMu.Unlock()
}

// dropSession закрывает и забывает текущую сессию
func (m *Manager) dropSession() {
	m.sessionMu.Lock()
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
	m.sessionMu.Unlock()
}

// Start запускает цикл установки соединения
func (m *Manager) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return
	}
	m.wg.Add(1)
	go m.connectLoop(ctx)
}

// Stop останавливает менеджер: прерывает реконнект, закрывает сессию,
// отбрасывает отложенные операции
func (m *Manager) Stop() {
	m.closeOnce.Do(func() {
		close(m.closeChan)
	})

	m.dropSession()
	m.setState(models.ConnDisconnected)
	m.wg.Wait()

	for _, op := range m.queue.Drain() {
		m.log.Warn("pending operation discarded on shutdown",
			utils.String("kind", op.Kind),
			utils.Symbol(op.Spec.Symbol))
		if op.OnResult != nil {
			op.OnResult(nil, ErrStopped)
		}
	}
}

// connectLoop - цикл рукопожатия с exponential backoff
//
// Транзиентные ошибки повторяются бесконечно. Ошибка аутентификации
// фатальна: цикл завершается, требуется вмешательство оператора.
func (m *Manager) connectLoop(ctx context.Context) {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		select {
		case <-m.closeChan:
			return
		case <-ctx.Done():
			m.setState(models.ConnDisconnected)
			return
		default:
		}

		m.setState(models.ConnConnecting)

		sess, err := m.dial(ctx)
		if err == nil {
			m.setSession(sess)
			// Флаг replay поднимается до публикации Connected: иначе
			// конкурентный SubmitOrder обгонит отложенные операции
			m.setReplaying(true)
			m.setState(models.ConnConnected)
			m.log.Info("broker session established", utils.Attempt(attempt+1))

			if replayErr := m.replay(ctx); replayErr != nil {
				// Разрыв во время replay: новый цикл с нуля
				m.dropSession()
				m.setState(models.ConnDisconnected)
				attempt = -1
				continue
			}

			m.wg.Add(1)
			go m.healthLoop(ctx)
			return
		}

		if broker.IsAuthError(err) {
			m.setFatal(err)
			m.setState(models.ConnDisconnected)
			m.log.Error("broker authentication failed, operator intervention required",
				utils.Err(err))
			return
		}

		delay := m.cfg.Backoff.Delay(attempt)
		m.log.Warn("broker connect failed, retrying",
			utils.Err(err),
			utils.Attempt(attempt+1),
			utils.String("retry_in", delay.String()))

		select {
		case <-time.After(delay):
		case <-m.closeChan:
			return
		case <-ctx.Done():
			m.setState(models.ConnDisconnected)
			return
		}
	}
}

// dial выполняет одно рукопожатие с учётом rate limit'а
func (m *Manager) dial(ctx context.Context) (broker.Session, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.limiter.Acquire(callCtx, ServiceBroker, 1); err != nil {
		return nil, &broker.ConnectionError{Op: "connect", Err: err}
	}
	return m.brk.Connect(callCtx, m.creds)
}

// healthLoop - периодическая проверка живости сессии
//
// ProbeStrikes подряд проваленных probe -> Degraded и попытка лёгкой
// реаутентификации. Неудача -> Disconnected -> полный цикл рукопожатия.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	strikes := 0

	for {
		select {
		case <-m.closeChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state := m.State()
		if state != models.ConnConnected && state != models.ConnDegraded {
			return
		}

		sess := m.getSession()
		if sess == nil {
			return
		}

		if err := m.probe(ctx, sess); err != nil {
			strikes++
			m.log.Warn("health probe failed",
				utils.Err(err),
				utils.Int("strikes", strikes))

			if strikes < m.cfg.ProbeStrikes {
				continue
			}

			// Сессия деградировала: ордера копятся в очереди,
			// пробуем лёгкую реаутентификацию без полного рукопожатия
			m.setState(models.ConnDegraded)

			if reauthErr := m.reauth(ctx, sess); reauthErr == nil {
				m.log.Info("session reauthenticated")
				strikes = 0
				m.setReplaying(true)
				m.setState(models.ConnConnected)
				if replayErr := m.replay(ctx); replayErr != nil {
					m.failover(ctx)
					return
				}
				continue
			}

			m.log.Warn("reauth failed, falling back to full reconnect")
			m.failover(ctx)
			return
		}

		if strikes > 0 {
			m.log.Info("health probe recovered", utils.Int("strikes", strikes))
		}
		strikes = 0
	}
}

// failover сбрасывает сессию и запускает новый цикл рукопожатия
func (m *Manager) failover(ctx context.Context) {
	m.dropSession()
	m.setState(models.ConnDisconnected)

	select {
	case <-m.closeChan:
		return
	case <-ctx.Done():
		return
	default:
	}

	m.wg.Add(1)
	go m.connectLoop(ctx)
}

func (m *Manager) probe(ctx context.Context, sess broker.Session) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.limiter.Acquire(callCtx, ServiceBroker, 1); err != nil {
		return err
	}
	return sess.Probe(callCtx)
}

func (m *Manager) reauth(ctx context.Context, sess broker.Session) error {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.limiter.Acquire(callCtx, ServiceBroker, 1); err != nil {
		return err
	}
	return sess.Reauth(callCtx)
}

// ============================================================
// Публичные операции
// ============================================================

// SubmitOrder отправляет ордер брокеру
//
// Без активной сессии (или пока идёт replay после восстановления) операция
// встаёт в очередь (возвращается ErrQueued), результат replay придёт через
// SetOnFill. Отказ venue (*RejectError) и throttling возвращаются синхронно
// и не повторяются.
func (m *Manager) SubmitOrder(ctx context.Context, spec broker.OrderSpec) (*broker.FillResult, error) {
	if err := m.Err(); err != nil {
		return nil, err
	}

	if m.deferToQueue(PendingOp{Kind: OpSubmitOrder, Spec: spec, EnqueuedAt: time.Now()}) {
		return nil, ErrQueued
	}

	fill, err := m.execute(ctx, spec)
	if err != nil && broker.IsConnectionError(err) {
		// Разрыв в момент отправки: операция в очередь, реконнект
		m.enqueue(PendingOp{Kind: OpSubmitOrder, Spec: spec, EnqueuedAt: time.Now()})
		m.handleDisconnect(ctx, err)
		return nil, ErrQueued
	}
	return fill, err
}

// ClosePosition отправляет закрывающий ордер для указанной позиции
func (m *Manager) ClosePosition(ctx context.Context, positionID string, spec broker.OrderSpec) (*broker.FillResult, error) {
	spec.ClosePosition = positionID

	if err := m.Err(); err != nil {
		return nil, err
	}

	if m.deferToQueue(PendingOp{Kind: OpClosePosition, Spec: spec, EnqueuedAt: time.Now()}) {
		return nil, ErrQueued
	}

	fill, err := m.execute(ctx, spec)
	if err != nil && broker.IsConnectionError(err) {
		m.enqueue(PendingOp{Kind: OpClosePosition, Spec: spec, EnqueuedAt: time.Now()})
		m.handleDisconnect(ctx, err)
		return nil, ErrQueued
	}
	return fill, err
}

// QueryAccount запрашивает свежий снимок счёта
//
// Не ставится в очередь: устаревший запрос снимка бессмыслен.
func (m *Manager) QueryAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	sess := m.getSession()
	if sess == nil || m.State() != models.ConnConnected {
		return nil, &broker.ConnectionError{Op: "query_account", Err: errors.New("no active session")}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.limiter.Acquire(callCtx, ServiceBroker, 1); err != nil {
		return nil, err
	}

	snapshot, err := sess.QueryAccount(callCtx)
	if err != nil && broker.IsConnectionError(err) {
		m.handleDisconnect(ctx, err)
	}
	return snapshot, err
}

// OpenPositions запрашивает открытые позиции по данным брокера
// (используется при сверке состояния после рестарта)
func (m *Manager) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	sess := m.getSession()
	if sess == nil || m.State() != models.ConnConnected {
		return nil, &broker.ConnectionError{Op: "open_positions", Err: errors.New("no active session")}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.limiter.Acquire(callCtx, ServiceBroker, 1); err != nil {
		return nil, err
	}

	positions, err := sess.OpenPositions(callCtx)
	if err != nil && broker.IsConnectionError(err) {
		m.handleDisconnect(ctx, err)
	}
	return positions, err
}

// execute выполняет ордер через активную сессию с учётом rate limit'а
func (m *Manager) execute(ctx context.Context, spec broker.OrderSpec) (*broker.FillResult, error) {
	sess := m.getSession()
	if sess == nil {
		return nil, &broker.ConnectionError{Op: "submit_order", Err: errors.New("no active session")}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	if err := m.limiter.Acquire(callCtx, ServiceBroker, m.cfg.OrderCost); err != nil {
		return nil, err
	}
	return sess.SubmitOrder(callCtx, spec)
}

func (m *Manager) setReplaying(v bool) {
	m.replayMu.Lock()
	m.replaying = v
	m.replayMu.Unlock()
}

// deferToQueue ставит операцию в очередь, если сессии нет или идёт replay
//
// Проверка и постановка в очередь атомарны относительно завершения replay:
// операция либо исполнится напрямую, либо гарантированно будет воспроизведена.
func (m *Manager) deferToQueue(op PendingOp) bool {
	m.replayMu.Lock()
	defer m.replayMu.Unlock()

	if m.State() != models.ConnConnected || m.replaying {
		m.enqueue(op)
		return true
	}
	return false
}

// enqueue ставит операцию в очередь; переполнение вытесняет самую старую
func (m *Manager) enqueue(op PendingOp) {
	dropped, wasDropped := m.queue.Push(op)
	if wasDropped {
		m.log.Warn("pending queue full, oldest operation dropped",
			utils.String("kind", dropped.Kind),
			utils.Symbol(dropped.Spec.Symbol))
		if dropped.OnResult != nil {
			dropped.OnResult(nil, ErrStale)
		}
	}

	m.log.Info("operation queued until connection restored",
		utils.String("kind", op.Kind),
		utils.Symbol(op.Spec.Symbol),
		utils.Int("queue_depth", m.queue.Len()))
}

// handleDisconnect реагирует на транзиентный разрыв активной сессии
func (m *Manager) handleDisconnect(ctx context.Context, err error) {
	// Только один переход Connected/Degraded -> Disconnected запускает реконнект
	if !m.casState(models.ConnConnected, models.ConnDisconnected) &&
		!m.casState(models.ConnDegraded, models.ConnDisconnected) {
		return
	}

	m.log.Warn("broker session lost", utils.Err(err))
	m.dropSession()

	select {
	case <-m.closeChan:
		return
	case <-ctx.Done():
		return
	default:
	}

	m.wg.Add(1)
	go m.connectLoop(ctx)
}

// replay воспроизводит отложенные операции по порядку
//
// Устаревшие операции отбрасываются предикатом staleCheck и никогда
// не исполняются повторно. Разрыв соединения прерывает replay, неисполненная
// операция возвращается в голову очереди.
//
// Пока replay не завершён, свежие SubmitOrder/ClosePosition уходят в хвост
// очереди: порядок подачи ордеров сохраняется сквозь разрыв.
func (m *Manager) replay(ctx context.Context) error {
	m.setReplaying(true)

	for {
		select {
		case <-m.closeChan:
			m.setReplaying(false)
			return nil
		case <-ctx.Done():
			m.setReplaying(false)
			return nil
		default:
		}

		op, ok := m.queue.Pop()
		if !ok {
			// Снятие флага и проверка пустоты атомарны с deferToQueue:
			// операция, вставшая в очередь в последний момент, не зависнет
			m.replayMu.Lock()
			if m.queue.Len() == 0 {
				m.replaying = false
				m.replayMu.Unlock()
				return nil
			}
			m.replayMu.Unlock()
			continue
		}

		m.callbackMu.RLock()
		stale := m.staleCheck
		onFill := m.onFill
		m.callbackMu.RUnlock()

		if stale != nil && stale(op) {
			m.log.Info("stale pending operation discarded",
				utils.String("kind", op.Kind),
				utils.Symbol(op.Spec.Symbol))
			if op.OnResult != nil {
				op.OnResult(nil, ErrStale)
			}
			continue
		}

		fill, err := m.execute(ctx, op.Spec)
		if err != nil {
			if broker.IsConnectionError(err) {
				m.queue.PushFront(op)
				m.setReplaying(false)
				return err
			}
			// Отказ venue при replay: операция не повторяется
			m.log.Warn("queued operation rejected on replay",
				utils.String("kind", op.Kind),
				utils.Symbol(op.Spec.Symbol),
				utils.Err(err))
			if op.OnResult != nil {
				op.OnResult(nil, err)
			}
			continue
		}

		m.log.Info("queued operation replayed",
			utils.String("kind", op.Kind),
			utils.FillID(fill.FillID),
			utils.Symbol(fill.Symbol))

		if op.OnResult != nil {
			op.OnResult(fill, nil)
		}
		if onFill != nil {
			onFill(fill)
		}
	}
}
