package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"orchestrator/internal/models"
)

func TestAuditHandler_GetAudit(t *testing.T) {
	reader := &mockAuditReader{
		decisions: []*models.DecisionAudit{
			{PlanID: "plan-1", Symbol: "EURUSD", Outcome: models.OutcomeReject, Reason: "var breach"},
		},
		approvals: []*models.ApprovalAudit{
			{PlanID: "plan-1", Resolution: models.PlanStateApproved, StepsTotal: 2, StepsExecuted: 2},
		},
	}
	handler := NewAuditHandler(reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	rec := httptest.NewRecorder()
	handler.GetAudit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp GetAuditResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Decisions) != 1 || resp.Decisions[0].Outcome != models.OutcomeReject {
		t.Errorf("decisions: %+v", resp.Decisions)
	}
	if len(resp.Approvals) != 1 || resp.Approvals[0].StepsExecuted != 2 {
		t.Errorf("approvals: %+v", resp.Approvals)
	}
}

func TestAuditHandler_EmptyJournalReturnsEmptyArrays(t *testing.T) {
	handler := NewAuditHandler(&mockAuditReader{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	rec := httptest.NewRecorder()
	handler.GetAudit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if body == "" || body[0] != '{' {
		t.Fatalf("body: %s", body)
	}

	var resp GetAuditResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Decisions == nil || resp.Approvals == nil {
		t.Error("expected empty arrays, not null")
	}
}

func TestAuditHandler_RepositoryError(t *testing.T) {
	handler := NewAuditHandler(&mockAuditReader{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	rec := httptest.NewRecorder()
	handler.GetAudit(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
