package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orchestrator/internal/models"
)

// SimBroker - симулятор брокера для dev-режима и smoke-прогонов.
//
// Исполняет ордера мгновенно по заданной цене, ведёт позиции и баланс
// в памяти. Поддерживает инъекцию отказов (сеть, аутентификация,
// health-probe) для проверки цикла восстановления без живого venue.
type SimBroker struct {
	mu sync.Mutex

	// Инъекция отказов
	failConnects int  // сколько ближайших Connect завершить сетевой ошибкой
	authFail     bool // все Connect завершаются AuthError

	startBalance float64
	price        float64 // цена исполнения всех ордеров

	session *SimSession
}

// NewSimBroker создаёт симулятор со стартовым балансом
func NewSimBroker(startBalance, price float64) *SimBroker {
	if startBalance <= 0 {
		startBalance = 10000
	}
	if price <= 0 {
		price = 1.0
	}
	return &SimBroker{
		startBalance: startBalance,
		price:        price,
	}
}

// FailNextConnects настраивает n ближайших Connect на сетевую ошибку
func (b *SimBroker) FailNextConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConnects = n
}

// SetAuthFail включает/выключает ошибку аутентификации на Connect
func (b *SimBroker) SetAuthFail(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authFail = fail
}

// SetPrice задаёт цену исполнения ордеров
func (b *SimBroker) SetPrice(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price = price
	if b.session != nil {
		b.session.setPrice(price)
	}
}

// Session возвращает текущую сессию (nil до первого Connect)
// Используется тестами для инъекции отказов probe/reauth
func (b *SimBroker) Session() *SimSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Connect устанавливает симулированную сессию
func (b *SimBroker) Connect(ctx context.Context, creds Credentials) (Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.authFail {
		return nil, &AuthError{Reason: "invalid credentials"}
	}
	if b.failConnects > 0 {
		b.failConnects--
		return nil, &ConnectionError{Op: "connect", Err: errors.New("simulated network failure")}
	}

	// Позиции переживают реконнект: как у настоящего брокера,
	// состояние счёта живёт на стороне venue
	if b.session == nil {
		b.session = &SimSession{
			balance:   b.startBalance,
			price:     b.price,
			positions: make(map[string]*models.Position),
			fills:     make(map[string]*FillResult),
		}
	}
	b.session.reopen()

	return b.session, nil
}

// SimSession - сессия симулятора
type SimSession struct {
	mu sync.Mutex

	closed       bool
	balance      float64
	price        float64
	positions    map[string]*models.Position
	fills        map[string]*FillResult // по client order id: повторная отправка не дублирует
	fillSeq      int
	posSeq       int
	probeFails   int  // сколько ближайших Probe провалить
	reauthFails  bool // Reauth завершается ошибкой
}

func (s *SimSession) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
}

func (s *SimSession) setPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
}

// FailNextProbes настраивает n ближайших Probe на ошибку
func (s *SimSession) FailNextProbes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeFails = n
}

// SetReauthFail включает/выключает ошибку Reauth
func (s *SimSession) SetReauthFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reauthFails = fail
}

// SubmitOrder мгновенно исполняет ордер по текущей цене симулятора
func (s *SimSession) SubmitOrder(ctx context.Context, spec OrderSpec) (*FillResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &ConnectionError{Op: "submit_order", Err: errors.New("session closed")}
	}
	if spec.Volume <= 0 {
		return nil, &RejectError{Code: "INVALID_VOLUME", Reason: fmt.Sprintf("volume %v must be positive", spec.Volume)}
	}

	// Повторная отправка того же client order id возвращает прежний fill
	if spec.ClientOrderID != "" {
		if prev, ok := s.fills[spec.ClientOrderID]; ok {
			return prev, nil
		}
	}

	now := time.Now().UTC()
	s.fillSeq++
	fill := &FillResult{
		FillID:        fmt.Sprintf("sim-fill-%d", s.fillSeq),
		ClientOrderID: spec.ClientOrderID,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Volume:        spec.Volume,
		Price:         s.price,
		MagicID:       spec.MagicID,
		Timestamp:     now,
	}

	if spec.ClosePosition != "" {
		pos, ok := s.positions[spec.ClosePosition]
		if !ok {
			return nil, &RejectError{Code: "POSITION_NOT_FOUND", Reason: spec.ClosePosition}
		}
		fill.PositionID = pos.ID
		fill.Closing = true
		fill.Pnl = closedPnl(pos, s.price)
		s.balance += fill.Pnl
		delete(s.positions, spec.ClosePosition)
	} else {
		s.posSeq++
		posID := fmt.Sprintf("sim-pos-%d", s.posSeq)
		fill.PositionID = posID
		s.positions[posID] = &models.Position{
			ID:         posID,
			Symbol:     spec.Symbol,
			Side:       spec.Side,
			Volume:     spec.Volume,
			EntryPrice: s.price,
			StopLoss:   spec.StopLoss,
			TakeProfit: spec.TakeProfit,
			OpenedAt:   now,
			MagicID:    spec.MagicID,
		}
	}

	if spec.ClientOrderID != "" {
		s.fills[spec.ClientOrderID] = fill
	}

	return fill, nil
}

func closedPnl(pos *models.Position, exitPrice float64) float64 {
	diff := exitPrice - pos.EntryPrice
	if pos.Side == models.SideShort {
		diff = -diff
	}
	return diff * pos.Volume
}

// QueryAccount возвращает снимок счёта симулятора
func (s *SimSession) QueryAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &ConnectionError{Op: "query_account", Err: errors.New("session closed")}
	}

	var floating float64
	for _, pos := range s.positions {
		floating += closedPnl(pos, s.price)
	}

	return &models.AccountSnapshot{
		Balance:     s.balance,
		Equity:      s.balance + floating,
		FloatingPnl: floating,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// OpenPositions возвращает копии открытых позиций
func (s *SimSession) OpenPositions(ctx context.Context) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &ConnectionError{Op: "open_positions", Err: errors.New("session closed")}
	}

	out := make([]*models.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

// Probe - проверка живости
func (s *SimSession) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ConnectionError{Op: "probe", Err: errors.New("session closed")}
	}
	if s.probeFails > 0 {
		s.probeFails--
		return &ConnectionError{Op: "probe", Err: errors.New("simulated probe timeout")}
	}
	return nil
}

// Reauth - облегчённая реаутентификация
func (s *SimSession) Reauth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reauthFails {
		return &ConnectionError{Op: "reauth", Err: errors.New("simulated reauth failure")}
	}
	s.closed = false
	return nil
}

// Close завершает сессию
func (s *SimSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
