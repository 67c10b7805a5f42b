package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orchestrator/internal/api/handlers"
	"orchestrator/internal/api/middleware"
	"orchestrator/internal/approval"
	"orchestrator/internal/notify"
	"orchestrator/internal/repository"
	"orchestrator/internal/store"
	"orchestrator/internal/trader"
	"orchestrator/internal/websocket"
	"orchestrator/pkg/ratelimit"
	"orchestrator/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Engine   *trader.Engine
	Store    *store.Store
	Notify   *notify.Service
	Workflow *approval.Workflow
	Limiter  *ratelimit.Limiter
	Audits   *repository.AuditRepository
	Hub      *websocket.Hub

	// APIKeyHash - bcrypt-хеш ключа оператора; пустой отключает auth
	APIKeyHash string

	Log *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /status - сводка движка + rate limiter
//	├── GET  /snapshot - полный снимок состояния
//	├── GET  /positions - открытые позиции
//	├── GET  /audit - журнал решений и разрешений
//	├── GET  /notifications - журнал уведомлений
//	├── POST /plans - подать план действий
//	├── POST /commands - команда оператора (pause/resume/stop/status)
//	├── POST   /approvals/{id}/confirm - код подтверждения плана
//	└── DELETE /approvals/{id} - отказ от плана
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - liveness probe
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. APIKeyAuth (мутирующие запросы /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	var log *utils.Logger
	if deps != nil {
		log = deps.Log
	}

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil {
		api.Use(middleware.APIKeyAuth(deps.APIKeyHash, log))
	}

	// Read-only сводки
	if deps != nil && deps.Engine != nil && deps.Store != nil {
		var limiterStats handlers.LimiterStats
		if deps.Limiter != nil {
			limiterStats = deps.Limiter
		}
		statusHandler := handlers.NewStatusHandler(deps.Engine, deps.Store, limiterStats)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
		api.HandleFunc("/snapshot", statusHandler.GetSnapshot).Methods("GET")
		api.HandleFunc("/positions", statusHandler.GetPositions).Methods("GET")
	}

	// Audit-журнал
	if deps != nil && deps.Audits != nil {
		auditHandler := handlers.NewAuditHandler(deps.Audits)
		api.HandleFunc("/audit", auditHandler.GetAudit).Methods("GET")
	}

	// Уведомления
	if deps != nil && deps.Notify != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.Notify)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
	}

	// Планы
	if deps != nil && deps.Engine != nil {
		planHandler := handlers.NewPlanHandler(deps.Engine)
		api.HandleFunc("/plans", planHandler.SubmitPlan).Methods("POST")
	}

	// Команды оператора и подтверждения
	if deps != nil && deps.Notify != nil && deps.Workflow != nil {
		commandHandler := handlers.NewCommandHandler(deps.Notify, deps.Workflow)
		api.HandleFunc("/commands", commandHandler.SubmitCommand).Methods("POST")
		api.HandleFunc("/approvals/{id}/confirm", commandHandler.ConfirmPlan).Methods("POST")
		api.HandleFunc("/approvals/{id}", commandHandler.CancelPlan).Methods("DELETE")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
