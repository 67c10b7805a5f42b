package handlers

import (
	"net/http"

	"orchestrator/internal/store"
	"orchestrator/internal/trader"
	"orchestrator/pkg/ratelimit"
)

// StatusProvider отдаёт сводку состояния движка
type StatusProvider interface {
	Status() trader.Status
}

// SnapshotProvider отдаёт консистентный снимок торгового состояния
type SnapshotProvider interface {
	Snapshot() store.Snapshot
}

// LimiterStats отдаёт счётчики rate limiter по сервисам
type LimiterStats interface {
	AllStats() map[string]ratelimit.Stats
}

// StatusHandler отвечает за read-only сводки состояния
//
// Endpoints:
// - GET /api/v1/status - сводка движка + счётчики rate limiter
// - GET /api/v1/snapshot - полный снимок состояния (счёт, позиции, сделки)
// - GET /api/v1/positions - только открытые позиции
type StatusHandler struct {
	engine  StatusProvider
	store   SnapshotProvider
	limiter LimiterStats
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимостей
func NewStatusHandler(engine StatusProvider, store SnapshotProvider, limiter LimiterStats) *StatusHandler {
	return &StatusHandler{engine: engine, store: store, limiter: limiter}
}

// StatusResponse представляет ответ сводки состояния
type StatusResponse struct {
	trader.Status
	RateLimits map[string]ratelimit.Stats `json:"rate_limits,omitempty"`
}

// GetStatus возвращает сводку состояния
//
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Status: h.engine.Status()}
	if h.limiter != nil {
		resp.RateLimits = h.limiter.AllStats()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// GetSnapshot возвращает полный снимок торгового состояния
//
// GET /api/v1/snapshot
func (h *StatusHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.store.Snapshot())
}

// GetPositions возвращает открытые позиции
//
// GET /api/v1/positions
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"positions": snap.Positions,
		"total":     len(snap.Positions),
	})
}
