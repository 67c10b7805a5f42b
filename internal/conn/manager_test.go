package conn

import (
	"context"
	"sync"
	"testing"
	"time"

	"orchestrator/internal/broker"
	"orchestrator/internal/models"
	"orchestrator/pkg/ratelimit"
	"orchestrator/pkg/retry"
	"orchestrator/pkg/utils"
)

func testManager(t *testing.T, sb *broker.SimBroker) *Manager {
	t.Helper()

	lim := ratelimit.New()
	lim.Register(ServiceBroker, 1000, 2000)

	cfg := Config{
		Backoff: retry.Config{
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2.0,
			JitterFactor: 0,
		},
		ProbeInterval: 15 * time.Millisecond,
		ProbeStrikes:  3,
		QueueCapacity: 16,
		OrderCost:     1,
		CallTimeout:   time.Second,
	}

	log := utils.InitLogger(utils.LogConfig{Level: "error", Format: "console"})
	return NewManager(sb, broker.Credentials{Login: "test", Password: "secret"}, lim, cfg, log)
}

// waitFor ждёт выполнения условия с дедлайном
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("не дождались: %s", what)
}

func TestManager_QueueWhileDisconnectedReplayFIFO(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	m := testManager(t, sb)
	defer m.Stop()

	var mu sync.Mutex
	var replayed []string
	m.SetOnFill(func(fill *broker.FillResult) {
		mu.Lock()
		replayed = append(replayed, fill.Symbol)
		mu.Unlock()
	})

	// Соединения ещё нет: все операции встают в очередь
	symbols := []string{"EURUSD", "GBPUSD", "USDJPY"}
	for _, sym := range symbols {
		_, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
			Symbol: sym,
			Side:   models.SideLong,
			Volume: 0.1,
		})
		if err != ErrQueued {
			t.Fatalf("SubmitOrder(%s) без соединения: err = %v, want ErrQueued", sym, err)
		}
	}

	if m.QueueDepth() != 3 {
		t.Fatalf("QueueDepth = %d, want 3", m.QueueDepth())
	}

	m.Start(context.Background())

	waitFor(t, time.Second, "replay всех операций", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return m.IsConnected() && len(replayed) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, sym := range symbols {
		if replayed[i] != sym {
			t.Errorf("replay #%d: %s, want %s (нарушен порядок FIFO)", i, replayed[i], sym)
		}
	}
	if m.QueueDepth() != 0 {
		t.Errorf("после replay очередь не пуста: %d", m.QueueDepth())
	}
}

func TestManager_SubmitDuringReplayJoinsQueue(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	m := testManager(t, sb)
	defer m.Stop()

	var mu sync.Mutex
	var fills []string
	m.SetOnFill(func(fill *broker.FillResult) {
		mu.Lock()
		fills = append(fills, fill.Symbol)
		mu.Unlock()
	})

	// Отложенная операция встала в очередь до подключения
	if _, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
		Symbol: "FIRST", Side: models.SideLong, Volume: 0.1,
	}); err != ErrQueued {
		t.Fatalf("SubmitOrder без соединения: err = %v, want ErrQueued", err)
	}

	m.Start(context.Background())
	waitFor(t, time.Second, "установку соединения", m.IsConnected)
	waitFor(t, time.Second, "завершение начального replay", func() bool {
		m.replayMu.Lock()
		defer m.replayMu.Unlock()
		return !m.replaying && m.queue.Len() == 0
	})

	// Имитируем незавершённый replay: свежий ордер обязан встать в хвост,
	// а не исполниться напрямую в обход очереди
	m.setReplaying(true)
	if _, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
		Symbol: "SECOND", Side: models.SideLong, Volume: 0.1,
	}); err != ErrQueued {
		t.Fatalf("SubmitOrder во время replay: err = %v, want ErrQueued", err)
	}

	if err := m.replay(context.Background()); err != nil {
		t.Fatalf("replay: %v", err)
	}

	mu.Lock()
	got := append([]string(nil), fills...)
	mu.Unlock()
	// FIRST воспроизведён при подключении, SECOND - после снятия имитации
	if len(got) < 2 || got[len(got)-1] != "SECOND" {
		t.Fatalf("порядок исполнения: %v, want ...SECOND последним", got)
	}
	for _, sym := range got[:len(got)-1] {
		if sym == "SECOND" {
			t.Fatalf("SECOND обогнал отложенные операции: %v", got)
		}
	}

	// Replay завершён: свежие ордера снова исполняются синхронно
	if m.QueueDepth() != 0 {
		t.Errorf("QueueDepth = %d, want 0", m.QueueDepth())
	}
	fill, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
		Symbol: "THIRD", Side: models.SideLong, Volume: 0.1,
	})
	if err != nil || fill == nil {
		t.Fatalf("SubmitOrder после replay: fill = %v, err = %v", fill, err)
	}
}

func TestManager_StaleOperationDiscarded(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	m := testManager(t, sb)
	defer m.Stop()

	// Операции по уже закрытой позиции не должны исполняться повторно
	m.SetStaleCheck(func(op PendingOp) bool {
		return op.Spec.Symbol == "STALE"
	})

	var mu sync.Mutex
	var replayed []string
	m.SetOnFill(func(fill *broker.FillResult) {
		mu.Lock()
		replayed = append(replayed, fill.Symbol)
		mu.Unlock()
	})

	for _, sym := range []string{"STALE", "FRESH"} {
		if _, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
			Symbol: sym, Side: models.SideLong, Volume: 0.1,
		}); err != ErrQueued {
			t.Fatalf("SubmitOrder(%s): err = %v, want ErrQueued", sym, err)
		}
	}

	m.Start(context.Background())

	waitFor(t, time.Second, "replay свежей операции", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return m.IsConnected() && len(replayed) == 1
	})

	mu.Lock()
	if replayed[0] != "FRESH" {
		t.Errorf("исполнена %s, want FRESH", replayed[0])
	}
	mu.Unlock()

	// У брокера открыта ровно одна позиция: устаревшая не исполнялась
	positions, err := sb.Session().OpenPositions(context.Background())
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Symbol != "FRESH" {
		t.Errorf("позиции у брокера: %+v, want одна FRESH", positions)
	}
}

func TestManager_ReconnectWithBackoff(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	sb.FailNextConnects(2)

	m := testManager(t, sb)
	defer m.Stop()

	m.Start(context.Background())

	waitFor(t, time.Second, "установку соединения после двух отказов", m.IsConnected)

	fill, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
		Symbol: "EURUSD", Side: models.SideLong, Volume: 0.1,
	})
	if err != nil {
		t.Fatalf("SubmitOrder после реконнекта: %v", err)
	}
	if fill.FillID == "" {
		t.Error("пустой fill id")
	}
}

func TestManager_AuthErrorFatal(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	sb.SetAuthFail(true)

	m := testManager(t, sb)
	defer m.Stop()

	m.Start(context.Background())

	waitFor(t, time.Second, "фатальную ошибку аутентификации", func() bool {
		return m.Err() != nil
	})

	if !broker.IsAuthError(m.Err()) {
		t.Errorf("Err() = %v, want AuthError", m.Err())
	}
	if m.State() != models.ConnDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}

	// Фатальная ошибка возвращается сразу, операции не копятся в очереди
	_, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
		Symbol: "EURUSD", Side: models.SideLong, Volume: 0.1,
	})
	if !broker.IsAuthError(err) {
		t.Errorf("SubmitOrder после фатальной ошибки: %v, want AuthError", err)
	}
	if m.QueueDepth() != 0 {
		t.Errorf("очередь не пуста после фатальной ошибки: %d", m.QueueDepth())
	}
}

func TestManager_ProbeFailuresDegradeThenReauth(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	m := testManager(t, sb)
	defer m.Stop()

	var mu sync.Mutex
	var states []models.ConnectionState
	m.SetOnStateChange(func(old, next models.ConnectionState) {
		mu.Lock()
		states = append(states, next)
		mu.Unlock()
	})

	m.Start(context.Background())
	waitFor(t, time.Second, "установку соединения", m.IsConnected)

	// Три подряд проваленных probe -> Degraded -> успешный reauth -> Connected
	sb.Session().FailNextProbes(3)

	waitFor(t, 2*time.Second, "цикл Degraded -> Connected", func() bool {
		mu.Lock()
		defer mu.Unlock()
		sawDegraded := false
		for _, s := range states {
			if s == models.ConnDegraded {
				sawDegraded = true
			}
		}
		return sawDegraded && m.IsConnected()
	})
}

func TestManager_ReauthFailureTriggersReconnect(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	m := testManager(t, sb)
	defer m.Stop()

	var mu sync.Mutex
	var states []models.ConnectionState
	m.SetOnStateChange(func(old, next models.ConnectionState) {
		mu.Lock()
		states = append(states, next)
		mu.Unlock()
	})

	m.Start(context.Background())
	waitFor(t, time.Second, "установку соединения", m.IsConnected)

	sess := sb.Session()
	sess.SetReauthFail(true)
	sess.FailNextProbes(3)

	// Degraded -> неудачный reauth -> Disconnected -> полное рукопожатие -> Connected
	waitFor(t, 2*time.Second, "полный цикл восстановления", func() bool {
		mu.Lock()
		defer mu.Unlock()
		sawDegraded, sawDisconnected := false, false
		for _, s := range states {
			if s == models.ConnDegraded {
				sawDegraded = true
			}
			if sawDegraded && s == models.ConnDisconnected {
				sawDisconnected = true
			}
		}
		return sawDegraded && sawDisconnected && m.IsConnected()
	})
}

func TestManager_RejectReturnedSynchronously(t *testing.T) {
	sb := broker.NewSimBroker(10000, 1.5)
	m := testManager(t, sb)
	defer m.Stop()

	m.Start(context.Background())
	waitFor(t, time.Second, "установку соединения", m.IsConnected)

	// Отказ venue не ставится в очередь и не повторяется
	_, err := m.SubmitOrder(context.Background(), broker.OrderSpec{
		Symbol: "EURUSD", Side: models.SideLong, Volume: 0,
	})
	if !broker.IsRejectError(err) {
		t.Errorf("err = %v, want RejectError", err)
	}
	if m.QueueDepth() != 0 {
		t.Errorf("отказ venue попал в очередь: depth = %d", m.QueueDepth())
	}
}
