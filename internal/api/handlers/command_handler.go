package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"orchestrator/internal/approval"
	"orchestrator/internal/notify"
)

// CommandSink принимает команды оператора
type CommandSink interface {
	SubmitCommand(cmd notify.Command) error
}

// Approver разрешает планы в ожидании подтверждения
type Approver interface {
	Confirm(planID, code string) error
	Cancel(planID, reason string) error
}

// CommandHandler отвечает за команды оператора и подтверждение планов
//
// Endpoints:
// - POST /api/v1/commands - команда движку (pause, resume, stop, status)
// - POST /api/v1/approvals/{id}/confirm - код подтверждения плана
// - DELETE /api/v1/approvals/{id} - отказ оператора от плана
//
// Команды идут через тот же канал, что и команды из внешних
// каналов уведомлений: движок обрабатывает их последовательно.
// Confirm/Cancel бьют напрямую в workflow, чтобы оператор сразу
// получил ошибку несовпадения кода или истёкшего окна.
type CommandHandler struct {
	commands CommandSink
	approver Approver
}

// NewCommandHandler создает новый CommandHandler с внедрением зависимостей
func NewCommandHandler(commands CommandSink, approver Approver) *CommandHandler {
	return &CommandHandler{commands: commands, approver: approver}
}

// CommandRequest представляет команду оператора
type CommandRequest struct {
	Kind string `json:"kind"`
}

// SubmitCommand принимает команду оператора
//
// POST /api/v1/commands
// Body: {"kind": "pause" | "resume" | "stop" | "status"}
//
// HTTP коды:
// - 202 Accepted: команда поставлена в очередь движка
// - 400 Bad Request: неизвестный вид команды
// - 503 Service Unavailable: очередь команд переполнена
func (h *CommandHandler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	// Код подтверждения через канал команд не принимается:
	// для него есть явный endpoint с синхронным ответом
	if req.Kind == notify.CommandConfirm || !notify.ValidCommand(req.Kind) {
		respondWithError(w, http.StatusBadRequest, "Unknown command kind: "+req.Kind)
		return
	}

	cmd := notify.Command{Kind: req.Kind, ReceivedAt: time.Now()}
	if err := h.commands.SubmitCommand(cmd); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "Command not accepted: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusAccepted, SuccessResponse{Message: "Command accepted"})
}

// ConfirmRequest представляет код подтверждения плана
type ConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmPlan сопоставляет код подтверждения с планом в ожидании
//
// POST /api/v1/approvals/{id}/confirm
// Body: {"code": "483920"}
//
// HTTP коды:
// - 200 OK: план одобрен, шаги пойдут в исполнение
// - 400 Bad Request: пустой код
// - 404 Not Found: план не найден или уже разрешён
// - 409 Conflict: код не совпал, план отклонён
func (h *CommandHandler) ConfirmPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["id"]

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "Confirmation code is required")
		return
	}

	if err := h.approver.Confirm(planID, req.Code); err != nil {
		switch {
		case errors.Is(err, approval.ErrPlanNotFound):
			respondWithError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, approval.ErrCodeMismatch):
			respondWithError(w, http.StatusConflict, err.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Plan approved"})
}

// CancelPlan отклоняет план в ожидании подтверждения
//
// DELETE /api/v1/approvals/{id}
//
// HTTP коды:
// - 200 OK: план отклонён
// - 404 Not Found: план не найден или уже разрешён
func (h *CommandHandler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["id"]

	if err := h.approver.Cancel(planID, "cancelled via api"); err != nil {
		if errors.Is(err, approval.ErrPlanNotFound) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Plan cancelled"})
}
