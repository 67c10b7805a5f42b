package handlers

import (
	"net/http"

	"orchestrator/internal/models"
)

// AuditReader отдаёт записи журнала решений и разрешений
type AuditReader interface {
	GetRecentDecisions(limit int) ([]*models.DecisionAudit, error)
	GetRecentApprovals(limit int) ([]*models.ApprovalAudit, error)
}

// AuditHandler отвечает за чтение audit-журнала
//
// Endpoints:
// - GET /api/v1/audit - последние решения Gating Engine и разрешения планов
// - GET /api/v1/audit?limit=50 - с ограничением количества
type AuditHandler struct {
	audits AuditReader
}

// NewAuditHandler создает новый AuditHandler с внедрением зависимости
func NewAuditHandler(audits AuditReader) *AuditHandler {
	return &AuditHandler{audits: audits}
}

// GetAuditResponse представляет ответ audit-журнала
type GetAuditResponse struct {
	Decisions []*models.DecisionAudit `json:"decisions"`
	Approvals []*models.ApprovalAudit `json:"approvals"`
}

// GetAudit возвращает последние audit-записи
//
// GET /api/v1/audit
//
// Query параметры:
// - limit (int): количество записей каждого вида (по умолчанию 100, максимум 500)
func (h *AuditHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	decisions, err := h.audits.GetRecentDecisions(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get decision audits: "+err.Error())
		return
	}

	approvals, err := h.audits.GetRecentApprovals(limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get approval audits: "+err.Error())
		return
	}

	if decisions == nil {
		decisions = []*models.DecisionAudit{}
	}
	if approvals == nil {
		approvals = []*models.ApprovalAudit{}
	}

	respondWithJSON(w, http.StatusOK, GetAuditResponse{
		Decisions: decisions,
		Approvals: approvals,
	})
}
