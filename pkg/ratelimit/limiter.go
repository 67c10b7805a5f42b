package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Token Bucket rate limiter для контроля частоты исходящих вызовов
// к внешним сервисам (брокер, источники рыночных данных).
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst (позволяет короткие всплески)
// - Каждый вызов потребляет cost токенов
// - Если токенов нет, вызов ждёт (ограниченно) или отклоняется с Throttled
//
// Пополнение ленивое: токены начисляются по wall-clock времени в момент
// каждого Acquire, без фоновых таймеров. Нет дрейфа и лишних пробуждений.
//
// Состояние не персистится: после рестарта вёдра полные. Это допустимо,
// лимиты - вежливость по отношению к upstream API, а не инвариант корректности.

// ThrottledError возвращается когда токенов недостаточно
//
// RetryAfter - через сколько накопится нужное количество токенов.
type ThrottledError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: throttled, retry after %v", e.Service, e.RetryAfter)
}

// IsThrottled проверяет, является ли ошибка throttling'ом
func IsThrottled(err error) (*ThrottledError, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Stats - счётчики одного сервиса для мониторинга
type Stats struct {
	Granted   int64   `json:"granted"`
	Throttled int64   `json:"throttled"`
	TotalCost float64 `json:"total_cost"`
}

// bucket - ведро одного сервиса
//
// У каждого сервиса свой mutex: throttling одного внешнего сервиса
// никогда не блокирует вызовы к другому.
type bucket struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	stats      Stats
	mu         sync.Mutex
}

// refill пополняет токены на основе прошедшего времени
// ВАЖНО: вызывается под lock'ом
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}

// shortfall возвращает время накопления недостающих токенов
// ВАЖНО: вызывается под lock'ом после refill
func (b *bucket) shortfall(cost float64) time.Duration {
	missing := cost - b.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / b.rate * float64(time.Second))
}

// Limiter управляет набором именованных вёдер (по одному на внешний сервис)
//
// Использование:
//
//	lim := ratelimit.New()
//	lim.Register("broker", 10, 20)         // 10 ток/сек, ёмкость 20
//	if err := lim.Acquire(ctx, "broker", 1); err != nil { ... }
type Limiter struct {
	buckets map[string]*bucket
	maxWait time.Duration // предел блокирующего ожидания в Acquire
	mu      sync.RWMutex
}

// New создаёт Limiter с пределом ожидания по умолчанию (5s)
func New() *Limiter {
	return NewWithMaxWait(5 * time.Second)
}

// NewWithMaxWait создаёт Limiter с указанным пределом ожидания
func NewWithMaxWait(maxWait time.Duration) *Limiter {
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		maxWait: maxWait,
	}
}

// Register добавляет ведро для сервиса
//
// Параметры:
//   - rate: токенов в секунду
//   - burst: ёмкость ведра (обычно 1.5-2x от rate)
//
// Ведро инициализируется полным.
func (l *Limiter) Register(service string, rate, burst float64) {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[service] = &bucket{
		rate:       rate,
		burst:      burst,
		tokens:     burst, // начинаем с полным ведром
		lastRefill: time.Now(),
	}
}

// get возвращает ведро сервиса (nil если сервис не зарегистрирован)
func (l *Limiter) get(service string) *bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.buckets[service]
}

// TryAcquire пытается списать cost токенов без ожидания
//
// Возвращает:
//   - nil: токены списаны, можно выполнять вызов
//   - *ThrottledError: токенов недостаточно, RetryAfter указывает когда повторить
//
// Незарегистрированный сервис не лимитируется.
func (l *Limiter) TryAcquire(service string, cost float64) error {
	b := l.get(service)
	if b == nil {
		return nil
	}
	if cost <= 0 {
		cost = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())

	if b.tokens >= cost {
		b.tokens -= cost
		b.stats.Granted++
		b.stats.TotalCost += cost
		return nil
	}

	b.stats.Throttled++
	return &ThrottledError{Service: service, RetryAfter: b.shortfall(cost)}
}

// Acquire списывает cost токенов, при нехватке блокируется до накопления
//
// Ожидание ограничено maxWait лимитера и контекстом. Если токены не
// накопятся в пределах maxWait, сразу возвращается ThrottledError -
// вызывающий код сам решает, повторять ли позже.
func (l *Limiter) Acquire(ctx context.Context, service string, cost float64) error {
	b := l.get(service)
	if b == nil {
		return nil
	}
	if cost <= 0 {
		cost = 1
	}

	for {
		b.mu.Lock()
		b.refill(time.Now())

		if b.tokens >= cost {
			b.tokens -= cost
			b.stats.Granted++
			b.stats.TotalCost += cost
			b.mu.Unlock()
			return nil
		}

		wait := b.shortfall(cost)
		if wait > l.maxWait {
			b.stats.Throttled++
			b.mu.Unlock()
			return &ThrottledError{Service: service, RetryAfter: wait}
		}
		b.mu.Unlock()

		// Ждём накопления с возможностью отмены
		select {
		case <-time.After(wait):
			// Повторяем попытку: токены могли забрать конкуренты
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats возвращает счётчики сервиса
func (l *Limiter) Stats(service string) Stats {
	b := l.get(service)
	if b == nil {
		return Stats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// AllStats возвращает счётчики всех сервисов
func (l *Limiter) AllStats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Stats, len(l.buckets))
	for name, b := range l.buckets {
		b.mu.Lock()
		out[name] = b.stats
		b.mu.Unlock()
	}
	return out
}

// Tokens возвращает текущее количество токенов сервиса
// Полезно для мониторинга и отладки
func (l *Limiter) Tokens(service string) float64 {
	b := l.get(service)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	return b.tokens
}

// SetRate изменяет скорость пополнения токенов сервиса
// Потокобезопасно
func (l *Limiter) SetRate(service string, rate float64) {
	b := l.get(service)
	if b == nil || rate <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now()) // фиксируем текущие токены перед изменением rate
	b.rate = rate
}

// SetBurst изменяет ёмкость ведра сервиса
// Потокобезопасно
func (l *Limiter) SetBurst(service string, burst float64) {
	b := l.get(service)
	if b == nil || burst <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.burst = burst
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}
