package handlers

import (
	"errors"
	"net/http"

	"orchestrator/internal/approval"
	"orchestrator/internal/models"
)

// PlanSubmitter принимает планы действий от внешнего оркестратора
type PlanSubmitter interface {
	SubmitPlan(plan *models.ActionPlan) (*models.ActionPlan, error)
}

// PlanHandler отвечает за приём ActionPlan
//
// Endpoints:
// - POST /api/v1/plans - подать план действий
//
// План проходит схему и policy синхронно: ответ содержит итоговое
// состояние (AUTO_APPROVED, PENDING_HUMAN, REJECTED). Исполнение
// одобренных шагов асинхронное, результат виден в audit-журнале
// и уведомлениях.
type PlanHandler struct {
	engine PlanSubmitter
}

// NewPlanHandler создает новый PlanHandler с внедрением зависимости
func NewPlanHandler(engine PlanSubmitter) *PlanHandler {
	return &PlanHandler{engine: engine}
}

// SubmitPlanResponse представляет ответ подачи плана
type SubmitPlanResponse struct {
	PlanID string `json:"plan_id"`
	State  string `json:"state"`
}

// SubmitPlan принимает план действий
//
// POST /api/v1/plans
// Body: ActionPlan JSON
//
// HTTP коды:
// - 202 Accepted: план принят (возможно, ждёт подтверждения)
// - 400 Bad Request: невалидное тело запроса
// - 422 Unprocessable Entity: план отклонён схемой или policy
// - 503 Service Unavailable: workflow остановлен
func (h *PlanHandler) SubmitPlan(w http.ResponseWriter, r *http.Request) {
	var plan models.ActionPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.SubmitPlan(&plan)
	if err != nil {
		if errors.Is(err, approval.ErrWorkflowDown) {
			respondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := http.StatusAccepted
	if result.State == models.PlanStateRejected {
		code = http.StatusUnprocessableEntity
	}

	respondWithJSON(w, code, SubmitPlanResponse{
		PlanID: result.ID,
		State:  result.State,
	})
}
