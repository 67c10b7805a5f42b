package trader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики оркестратора
//
// Регистрируются в default registry, экспортируются на /metrics.
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "risk_decisions_total",
		Help:      "Gating Engine decisions by outcome",
	}, []string{"outcome"})

	gateRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "gate_rejects_total",
		Help:      "Rejections by the gate that fired",
	}, []string{"gate"})

	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "orders_total",
		Help:      "Broker order submissions by result",
	}, []string{"result"})

	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "plans_total",
		Help:      "Action plan resolutions by final state",
	}, []string{"resolution"})

	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "pending_queue_depth",
		Help:      "Operations queued while the broker session is down",
	})

	connStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "connection_state",
		Help:      "Broker session state (0 disconnected, 1 connecting, 2 connected, 3 degraded)",
	})

	equityGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "account_equity",
		Help:      "Last known account equity",
	})

	openPositionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "open_positions",
		Help:      "Number of open positions in the state store",
	})
)

// Результаты отправки ордера для ordersTotal
const (
	orderResultFilled   = "filled"
	orderResultQueued   = "queued"
	orderResultRejected = "rejected"
	orderResultError    = "error"
)
