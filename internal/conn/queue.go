package conn

import (
	"sync"
	"time"

	"orchestrator/internal/broker"
)

// Виды отложенных операций
const (
	OpSubmitOrder   = "submit_order"
	OpClosePosition = "close_position"
)

// PendingOp - операция, отложенная до восстановления соединения
//
// OnResult вызывается после исполнения при replay (или с ошибкой,
// если операция отброшена как устаревшая). Может быть nil.
type PendingOp struct {
	Kind       string
	Spec       broker.OrderSpec
	EnqueuedAt time.Time
	OnResult   func(*broker.FillResult, error)
}

// pendingQueue - ограниченная FIFO очередь отложенных операций
//
// При переполнении вытесняется самая старая операция: свежее намерение
// важнее устаревшего. Вытесненная операция возвращается вызывающему
// для логирования и уведомления её callback'а.
type pendingQueue struct {
	mu    sync.Mutex
	ops   []PendingOp
	cap   int
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &pendingQueue{cap: capacity}
}

// Push добавляет операцию в хвост очереди
//
// Возвращает вытесненную операцию и true, если очередь была полна.
func (q *pendingQueue) Push(op PendingOp) (PendingOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped PendingOp
	var wasDropped bool

	if len(q.ops) >= q.cap {
		dropped = q.ops[0]
		wasDropped = true
		q.ops = q.ops[1:]
	}

	q.ops = append(q.ops, op)
	return dropped, wasDropped
}

// PushFront возвращает операцию в голову очереди
// (replay прерван разрывом соединения, операция не исполнена)
func (q *pendingQueue) PushFront(op PendingOp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append([]PendingOp{op}, q.ops...)
}

// Pop извлекает операцию из головы очереди
func (q *pendingQueue) Pop() (PendingOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return PendingOp{}, false
	}

	op := q.ops[0]
	q.ops = q.ops[1:]
	return op, true
}

// Len возвращает глубину очереди
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Drain извлекает все операции (используется при остановке)
func (q *pendingQueue) Drain() []PendingOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.ops
	q.ops = nil
	return ops
}
