package store

import (
	"fmt"
	"sync"
	"time"

	"orchestrator/internal/broker"
	"orchestrator/internal/models"
	"orchestrator/pkg/utils"
)

// State Store - единственный владелец торгового состояния
//
// Все мутации (позиции, счёт, журнал сделок, кривая капитала) проходят
// через один mutex: читатели никогда не видят частичного обновления.
// Наружу отдаются только глубокие копии.
//
// Идемпотентность: каждый fill применяется ровно один раз, ключ -
// broker fill id. Повторная доставка того же fill'а (replay очереди,
// реконнект) не искажает состояние.

// Ошибки Store
var (
	ErrPositionNotFound = fmt.Errorf("position not found")
	ErrDuplicateSlot    = fmt.Errorf("position already open for symbol and magic id")
)

// Store хранит торговое состояние в памяти
type Store struct {
	mu sync.Mutex

	account      models.AccountSnapshot
	positions    map[string]*models.Position // по id позиции
	slots        map[string]string           // symbol|magic -> id позиции
	closedTrades []models.ClosedTrade
	equity       []models.EquityPoint
	appliedFills map[string]struct{} // применённые fill id

	tradeSeq int
	dirty    bool   // есть несохранённые изменения
	lastConn string // состояние соединения из восстановленного снимка

	observers  []chan Event
	observerMu sync.Mutex

	log *utils.Logger
}

// New создаёт пустой Store
func New(log *utils.Logger) *Store {
	if log == nil {
		log = utils.L()
	}
	return &Store{
		positions:    make(map[string]*models.Position),
		slots:        make(map[string]string),
		appliedFills: make(map[string]struct{}),
		log:          log.WithComponent("store"),
	}
}

func slotKey(symbol string, magicID int64) string {
	return fmt.Sprintf("%s|%d", symbol, magicID)
}

// ============================================================
// Мутации
// ============================================================

// ApplyFill применяет подтверждённое брокером исполнение
//
// Идемпотентно: повторный fill с тем же id игнорируется (applied=false).
// Закрывающий fill переносит позицию в журнал сделок, открывающий
// создаёт позицию с контролем уникальности (symbol, magic id).
func (s *Store) ApplyFill(fill *broker.FillResult) (applied bool, err error) {
	if fill == nil || fill.FillID == "" {
		return false, fmt.Errorf("fill without id")
	}

	s.mu.Lock()

	if _, seen := s.appliedFills[fill.FillID]; seen {
		s.mu.Unlock()
		s.log.Debug("duplicate fill ignored", utils.FillID(fill.FillID))
		return false, nil
	}

	var event Event

	if fill.Closing {
		pos, ok := s.positions[fill.PositionID]
		if !ok {
			s.mu.Unlock()
			return false, fmt.Errorf("closing fill %s: %w (position %s)",
				fill.FillID, ErrPositionNotFound, fill.PositionID)
		}
		trade := s.closeLocked(pos, fill.Price, fill.Pnl, models.CloseReasonSignal, fill.Timestamp)
		event = Event{Type: EventPositionClosed, Trade: &trade, At: fill.Timestamp}
	} else {
		pos := &models.Position{
			ID:         fill.PositionID,
			Symbol:     fill.Symbol,
			Side:       fill.Side,
			Volume:     fill.Volume,
			EntryPrice: fill.Price,
			OpenedAt:   fill.Timestamp,
			MagicID:    fill.MagicID,
		}
		if err := s.openLocked(pos); err != nil {
			s.mu.Unlock()
			return false, err
		}
		cp := *pos
		event = Event{Type: EventPositionOpened, Position: &cp, At: fill.Timestamp}
	}

	s.appliedFills[fill.FillID] = struct{}{}
	s.dirty = true
	s.mu.Unlock()

	s.notify(event)
	return true, nil
}

// openLocked регистрирует позицию; вызывается под lock'ом
func (s *Store) openLocked(pos *models.Position) error {
	key := slotKey(pos.Symbol, pos.MagicID)
	if existing, busy := s.slots[key]; busy {
		return fmt.Errorf("%w: %s occupied by %s", ErrDuplicateSlot, key, existing)
	}
	s.positions[pos.ID] = pos
	s.slots[key] = pos.ID
	return nil
}

// closeLocked переносит позицию в журнал; вызывается под lock'ом
func (s *Store) closeLocked(pos *models.Position, exitPrice, pnl float64, reason string, at time.Time) models.ClosedTrade {
	s.tradeSeq++
	trade := models.ClosedTrade{
		ID:         s.tradeSeq,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Volume:     pos.Volume,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Pnl:        pnl,
		Reason:     reason,
		MagicID:    pos.MagicID,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
	}

	s.closedTrades = append(s.closedTrades, trade)
	delete(s.positions, pos.ID)
	delete(s.slots, slotKey(pos.Symbol, pos.MagicID))
	return trade
}

// OpenPosition регистрирует позицию напрямую (сверка при старте)
//
// Обычный путь открытия - через ApplyFill.
func (s *Store) OpenPosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position without id")
	}

	s.mu.Lock()
	cp := *pos
	if err := s.openLocked(&cp); err != nil {
		s.mu.Unlock()
		return err
	}
	s.dirty = true
	s.mu.Unlock()

	published := cp
	s.notify(Event{Type: EventPositionOpened, Position: &published, At: time.Now()})
	return nil
}

// ClosePosition переносит позицию в журнал сделок с указанной причиной
//
// Используется при сверке (позиция исчезла у брокера) и ручном закрытии.
func (s *Store) ClosePosition(id string, exitPrice, pnl float64, reason string) (*models.ClosedTrade, error) {
	s.mu.Lock()

	pos, ok := s.positions[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("close %s: %w", id, ErrPositionNotFound)
	}

	trade := s.closeLocked(pos, exitPrice, pnl, reason, time.Now())
	s.dirty = true
	s.mu.Unlock()

	s.notify(Event{Type: EventPositionClosed, Trade: &trade, At: trade.ClosedAt})
	return &trade, nil
}

// ModifyPosition обновляет защитные уровни открытой позиции
func (s *Store) ModifyPosition(id string, stopLoss, takeProfit float64) error {
	s.mu.Lock()

	pos, ok := s.positions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("modify %s: %w", id, ErrPositionNotFound)
	}

	if stopLoss > 0 {
		pos.StopLoss = stopLoss
	}
	if takeProfit > 0 {
		pos.TakeProfit = takeProfit
	}
	s.dirty = true
	cp := *pos
	s.mu.Unlock()

	s.notify(Event{Type: EventPositionUpdated, Position: &cp, At: time.Now()})
	return nil
}

// SetAccount заменяет снимок счёта целиком
func (s *Store) SetAccount(snapshot models.AccountSnapshot) {
	s.mu.Lock()
	s.account = snapshot
	s.dirty = true
	s.mu.Unlock()

	cp := snapshot
	s.notify(Event{Type: EventAccountUpdated, Account: &cp, At: snapshot.Timestamp})
}

// RecordEquity добавляет точку кривой капитала
func (s *Store) RecordEquity(point models.EquityPoint) {
	s.mu.Lock()
	s.equity = append(s.equity, point)
	s.dirty = true
	s.mu.Unlock()
}

// ============================================================
// Чтение
// ============================================================

// Account возвращает текущий снимок счёта
func (s *Store) Account() models.AccountSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// HasPosition проверяет существование открытой позиции
// (предикат устаревания для очереди отложенных операций)
func (s *Store) HasPosition(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[id]
	return ok
}

// SlotFree проверяет, свободен ли слот (symbol, magic id)
func (s *Store) SlotFree(symbol string, magicID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.slots[slotKey(symbol, magicID)]
	return !busy
}

// Position возвращает копию позиции по id
func (s *Store) Position(id string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Snapshot - состояние целиком для чтения
type Snapshot struct {
	Account      models.AccountSnapshot `json:"account"`
	Positions    []models.Position      `json:"positions"`
	ClosedTrades []models.ClosedTrade   `json:"closed_trades"`
	Equity       []models.EquityPoint   `json:"equity"`
	TakenAt      time.Time              `json:"taken_at"`
}

// Snapshot возвращает глубокую копию всего состояния
//
// Читатели работают со своей копией: мутации Store их не затрагивают.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Account:      s.account,
		Positions:    make([]models.Position, 0, len(s.positions)),
		ClosedTrades: make([]models.ClosedTrade, len(s.closedTrades)),
		Equity:       make([]models.EquityPoint, len(s.equity)),
		TakenAt:      time.Now(),
	}
	for _, pos := range s.positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	copy(snap.ClosedTrades, s.closedTrades)
	copy(snap.Equity, s.equity)
	return snap
}

// ============================================================
// Наблюдатели
// ============================================================

// Subscribe возвращает канал событий Store
//
// Доставка fire-and-forget: медленный подписчик теряет события,
// но никогда не блокирует мутации.
func (s *Store) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	s.observerMu.Lock()
	s.observers = append(s.observers, ch)
	s.observerMu.Unlock()

	return ch
}

// notify рассылает событие подписчикам; вызывается вне основного lock'а
func (s *Store) notify(event Event) {
	s.observerMu.Lock()
	observers := make([]chan Event, len(s.observers))
	copy(observers, s.observers)
	s.observerMu.Unlock()

	for _, ch := range observers {
		select {
		case ch <- event:
		default:
			// Подписчик не успевает - событие отбрасывается
		}
	}
}
