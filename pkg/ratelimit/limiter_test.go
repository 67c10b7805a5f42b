package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTryAcquire_BurstThenThrottled(t *testing.T) {
	lim := New()
	lim.Register("broker", 1, 10) // 1 токен/сек, ёмкость 10

	// Ведро полное: 10 вызовов проходят сразу
	for i := 0; i < 10; i++ {
		if err := lim.TryAcquire("broker", 1); err != nil {
			t.Fatalf("вызов %d: неожиданный throttle: %v", i+1, err)
		}
	}

	// 11-й вызов должен быть отклонён с retryAfter ~1s
	err := lim.TryAcquire("broker", 1)
	if err == nil {
		t.Fatal("11-й вызов должен быть throttled")
	}

	te, ok := IsThrottled(err)
	if !ok {
		t.Fatalf("ожидалась ThrottledError, получено %T: %v", err, err)
	}
	if te.Service != "broker" {
		t.Errorf("Service = %q, want broker", te.Service)
	}
	if te.RetryAfter < 900*time.Millisecond {
		t.Errorf("RetryAfter = %v, want >= ~1s", te.RetryAfter)
	}

	// После указанного ожидания токен накапливается
	time.Sleep(te.RetryAfter + 50*time.Millisecond)
	if err := lim.TryAcquire("broker", 1); err != nil {
		t.Errorf("после ожидания retryAfter вызов должен пройти: %v", err)
	}
}

func TestTryAcquire_UnknownServiceNotLimited(t *testing.T) {
	lim := New()

	for i := 0; i < 100; i++ {
		if err := lim.TryAcquire("unknown", 1); err != nil {
			t.Fatalf("незарегистрированный сервис не должен лимитироваться: %v", err)
		}
	}
}

func TestTryAcquire_Cost(t *testing.T) {
	lim := New()
	lim.Register("data", 1, 10)

	// Один вызов стоимостью 10 выедает всё ведро
	if err := lim.TryAcquire("data", 10); err != nil {
		t.Fatalf("вызов стоимостью 10: %v", err)
	}
	if err := lim.TryAcquire("data", 1); err == nil {
		t.Error("ведро пустое, вызов должен быть throttled")
	}
}

func TestAcquire_BlocksUntilRefill(t *testing.T) {
	lim := NewWithMaxWait(2 * time.Second)
	lim.Register("broker", 20, 1) // быстрое пополнение для теста

	if err := lim.TryAcquire("broker", 1); err != nil {
		t.Fatalf("первый вызов: %v", err)
	}

	// Ведро пустое: Acquire должен дождаться пополнения (~50ms)
	start := time.Now()
	if err := lim.Acquire(context.Background(), "broker", 1); err != nil {
		t.Fatalf("Acquire должен дождаться токена: %v", err)
	}
	if waited := time.Since(start); waited < 20*time.Millisecond {
		t.Errorf("Acquire вернулся слишком быстро: %v", waited)
	}
}

func TestAcquire_MaxWaitExceeded(t *testing.T) {
	lim := NewWithMaxWait(100 * time.Millisecond)
	lim.Register("slow", 0.1, 1) // 1 токен раз в 10 секунд

	if err := lim.TryAcquire("slow", 1); err != nil {
		t.Fatalf("первый вызов: %v", err)
	}

	// Накопление займёт ~10s > maxWait 100ms: немедленный Throttled
	err := lim.Acquire(context.Background(), "slow", 1)
	te, ok := IsThrottled(err)
	if !ok {
		t.Fatalf("ожидалась ThrottledError, получено %v", err)
	}
	if te.RetryAfter < 5*time.Second {
		t.Errorf("RetryAfter = %v, want ~10s", te.RetryAfter)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	lim := NewWithMaxWait(10 * time.Second)
	lim.Register("broker", 0.5, 1)

	if err := lim.TryAcquire("broker", 1); err != nil {
		t.Fatalf("первый вызов: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := lim.Acquire(ctx, "broker", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидался context.DeadlineExceeded, получено %v", err)
	}
}

func TestBuckets_Independent(t *testing.T) {
	lim := New()
	lim.Register("broker", 0.1, 1)
	lim.Register("data", 100, 100)

	// Выедаем ведро broker
	if err := lim.TryAcquire("broker", 1); err != nil {
		t.Fatalf("broker: %v", err)
	}
	if err := lim.TryAcquire("broker", 1); err == nil {
		t.Fatal("broker должен быть throttled")
	}

	// data не должен пострадать
	for i := 0; i < 50; i++ {
		if err := lim.TryAcquire("data", 1); err != nil {
			t.Fatalf("throttling broker не должен влиять на data: %v", err)
		}
	}
}

func TestStats_Counters(t *testing.T) {
	lim := New()
	lim.Register("broker", 1, 3)

	for i := 0; i < 3; i++ {
		if err := lim.TryAcquire("broker", 1); err != nil {
			t.Fatalf("вызов %d: %v", i+1, err)
		}
	}
	// Два отклонённых
	lim.TryAcquire("broker", 1)
	lim.TryAcquire("broker", 1)

	stats := lim.Stats("broker")
	if stats.Granted != 3 {
		t.Errorf("Granted = %d, want 3", stats.Granted)
	}
	if stats.Throttled != 2 {
		t.Errorf("Throttled = %d, want 2", stats.Throttled)
	}
	if stats.TotalCost != 3 {
		t.Errorf("TotalCost = %v, want 3", stats.TotalCost)
	}

	all := lim.AllStats()
	if got := all["broker"]; got.Granted != 3 {
		t.Errorf("AllStats granted = %d, want 3", got.Granted)
	}
}

func TestSetRate_TakesEffect(t *testing.T) {
	lim := New()
	lim.Register("broker", 1, 1)

	if err := lim.TryAcquire("broker", 1); err != nil {
		t.Fatalf("первый вызов: %v", err)
	}

	// Ускоряем пополнение до 1000 ток/сек
	lim.SetRate("broker", 1000)
	time.Sleep(10 * time.Millisecond)

	if err := lim.TryAcquire("broker", 1); err != nil {
		t.Errorf("после SetRate(1000) токен должен накопиться: %v", err)
	}
}

func TestSetBurst_ClampsTokens(t *testing.T) {
	lim := New()
	lim.Register("broker", 1, 10)

	lim.SetBurst("broker", 2)
	if tokens := lim.Tokens("broker"); tokens > 2 {
		t.Errorf("после SetBurst(2) токенов %v, want <= 2", tokens)
	}
}
