package store

import (
	"context"
	"sync"
	"time"

	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

// Текущая версия схемы durable-записи
//
// При изменении структуры StateRecord версия увеличивается,
// Load мигрирует старые записи вперёд.
const SchemaVersion = 1

// StateRecord - сериализуемый снимок состояния для durable-хранилища
type StateRecord struct {
	SchemaVersion int                    `json:"schema_version"`
	Account       models.AccountSnapshot `json:"account"`
	Positions     []models.Position      `json:"positions"`
	ClosedTrades  []models.ClosedTrade   `json:"closed_trades"`
	Equity        []models.EquityPoint   `json:"equity"`
	AppliedFills  []string               `json:"applied_fills"`

	// Connection - состояние соединения с брокером на момент снимка.
	// После рестарта подсказывает, чем закончилась прошлая сессия
	// (например, disconnected = позиции могли разъехаться, нужна сверка).
	Connection string `json:"connection,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// Repository - durable-хранилище снимков состояния
type Repository interface {
	// SaveState записывает снимок (последняя запись побеждает)
	SaveState(ctx context.Context, record *StateRecord) error

	// LoadState возвращает последний сохранённый снимок
	// (nil, nil) если сохранений ещё не было
	LoadState(ctx context.Context) (*StateRecord, error)
}

// Record собирает сериализуемый снимок текущего состояния
func (s *Store) Record() *StateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := &StateRecord{
		SchemaVersion: SchemaVersion,
		Account:       s.account,
		Positions:     make([]models.Position, 0, len(s.positions)),
		ClosedTrades:  make([]models.ClosedTrade, len(s.closedTrades)),
		Equity:        make([]models.EquityPoint, len(s.equity)),
		AppliedFills:  make([]string, 0, len(s.appliedFills)),
		SavedAt:       time.Now(),
	}
	for _, pos := range s.positions {
		record.Positions = append(record.Positions, *pos)
	}
	copy(record.ClosedTrades, s.closedTrades)
	copy(record.Equity, s.equity)
	for id := range s.appliedFills {
		record.AppliedFills = append(record.AppliedFills, id)
	}
	return record
}

// Restore загружает состояние из durable-записи
//
// Вызывается один раз при старте, до запуска каких-либо мутаций.
func (s *Store) Restore(record *StateRecord) error {
	if record == nil {
		return nil
	}
	if record.SchemaVersion > SchemaVersion {
		// Запись из будущей версии: откат бинарника на старое состояние
		// безопаснее, чем молчаливая потеря полей
		s.log.Warn("state record from newer schema, loading best-effort",
			utils.Int("record_version", record.SchemaVersion),
			utils.Int("supported", SchemaVersion))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.account = record.Account
	s.positions = make(map[string]*models.Position, len(record.Positions))
	s.slots = make(map[string]string, len(record.Positions))
	for i := range record.Positions {
		pos := record.Positions[i]
		s.positions[pos.ID] = &pos
		s.slots[slotKey(pos.Symbol, pos.MagicID)] = pos.ID
	}

	s.closedTrades = make([]models.ClosedTrade, len(record.ClosedTrades))
	copy(s.closedTrades, record.ClosedTrades)
	for _, trade := range s.closedTrades {
		if trade.ID > s.tradeSeq {
			s.tradeSeq = trade.ID
		}
	}

	s.equity = make([]models.EquityPoint, len(record.Equity))
	copy(s.equity, record.Equity)

	s.appliedFills = make(map[string]struct{}, len(record.AppliedFills))
	for _, id := range record.AppliedFills {
		s.appliedFills[id] = struct{}{}
	}

	s.lastConn = record.Connection
	s.dirty = false
	return nil
}

// LastConnectionState возвращает состояние соединения из восстановленного
// снимка (пусто, если снимка не было или он записан старой схемой)
func (s *Store) LastConnectionState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConn
}

// Reconcile сверяет локальные позиции с данными брокера
//
// Брокер - источник истины о существовании открытых позиций:
//   - локальная позиция, которой нет у брокера, закрывается с причиной
//     reconcile (исполнился stop loss во время простоя и т.п.)
//   - позиция брокера, неизвестная локально, регистрируется
//
// Журнал сделок и кривая капитала локальные, сверкой не затрагиваются.
func (s *Store) Reconcile(live []*models.Position) {
	liveByID := make(map[string]*models.Position, len(live))
	for _, pos := range live {
		liveByID[pos.ID] = pos
	}

	s.mu.Lock()

	var closedEvents []Event
	for id, pos := range s.positions {
		if _, exists := liveByID[id]; exists {
			continue
		}
		s.log.Warn("position missing at broker, closing locally",
			utils.String("position_id", id),
			utils.Symbol(pos.Symbol))
		trade := s.closeLocked(pos, pos.EntryPrice, 0, models.CloseReasonReconcile, time.Now())
		t := trade
		closedEvents = append(closedEvents, Event{Type: EventPositionClosed, Trade: &t, At: t.ClosedAt})
		s.dirty = true
	}

	var openedEvents []Event
	for id, pos := range liveByID {
		if _, known := s.positions[id]; known {
			continue
		}
		cp := *pos
		if err := s.openLocked(&cp); err != nil {
			s.log.Error("reconcile: cannot register broker position",
				utils.String("position_id", id),
				utils.Err(err))
			continue
		}
		s.log.Info("position adopted from broker",
			utils.String("position_id", id),
			utils.Symbol(cp.Symbol))
		published := cp
		openedEvents = append(openedEvents, Event{Type: EventPositionOpened, Position: &published, At: time.Now()})
		s.dirty = true
	}

	s.mu.Unlock()

	for _, ev := range closedEvents {
		s.notify(ev)
	}
	for _, ev := range openedEvents {
		s.notify(ev)
	}
}

// Dirty возвращает true если есть несохранённые изменения
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// markClean сбрасывает флаг после успешного сохранения
func (s *Store) markClean() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// Persister периодически сбрасывает состояние в durable-хранилище
//
// Запись коалесцируется таймером: частые мутации не порождают
// шторм записей. Финальный Flush выполняется при остановке.
type Persister struct {
	store    *Store
	repo     Repository
	interval time.Duration
	log      *utils.Logger

	// connState сообщает текущее состояние соединения для снимка
	connState func() string
	stateMu   sync.RWMutex

	closeChan chan struct{}
	doneChan  chan struct{}
}

// NewPersister создаёт persister с указанным интервалом
func NewPersister(s *Store, repo Repository, interval time.Duration, log *utils.Logger) *Persister {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if log == nil {
		log = utils.L()
	}
	return &Persister{
		store:     s,
		repo:      repo,
		interval:  interval,
		log:       log.WithComponent("persister"),
		closeChan: make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// SetConnState устанавливает источник состояния соединения
// (Connection Manager подключается после создания persister'а)
func (p *Persister) SetConnState(fn func() string) {
	p.stateMu.Lock()
	p.connState = fn
	p.stateMu.Unlock()
}

// Start запускает цикл периодического сохранения
func (p *Persister) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Persister) run(ctx context.Context) {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.log.Error("state persist failed", utils.Err(err))
			}
		}
	}
}

// Flush сохраняет состояние, если были изменения
func (p *Persister) Flush(ctx context.Context) error {
	if !p.store.Dirty() {
		return nil
	}

	record := p.store.Record()

	p.stateMu.RLock()
	connState := p.connState
	p.stateMu.RUnlock()
	if connState != nil {
		record.Connection = connState()
	}

	if err := p.repo.SaveState(ctx, record); err != nil {
		return err
	}

	p.store.markClean()
	p.log.Debug("state persisted",
		utils.Int("positions", len(record.Positions)),
		utils.Int("trades", len(record.ClosedTrades)))
	return nil
}

// Stop останавливает цикл и делает финальное сохранение
func (p *Persister) Stop(ctx context.Context) error {
	close(p.closeChan)
	<-p.doneChan
	return p.Flush(ctx)
}
