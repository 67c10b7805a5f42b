package handlers

import (
	"orchestrator/internal/models"
	"orchestrator/internal/notify"
	"orchestrator/internal/store"
	"orchestrator/internal/trader"
	"orchestrator/pkg/ratelimit"
)

// ============================================================
// Моки зависимостей handlers
// ============================================================

type mockStatusProvider struct {
	status trader.Status
}

func (m *mockStatusProvider) Status() trader.Status { return m.status }

type mockSnapshotProvider struct {
	snapshot store.Snapshot
}

func (m *mockSnapshotProvider) Snapshot() store.Snapshot { return m.snapshot }

type mockLimiterStats struct {
	stats map[string]ratelimit.Stats
}

func (m *mockLimiterStats) AllStats() map[string]ratelimit.Stats { return m.stats }

type mockAuditReader struct {
	decisions []*models.DecisionAudit
	approvals []*models.ApprovalAudit
	err       error
}

func (m *mockAuditReader) GetRecentDecisions(limit int) ([]*models.DecisionAudit, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.decisions) {
		return m.decisions[:limit], nil
	}
	return m.decisions, nil
}

func (m *mockAuditReader) GetRecentApprovals(limit int) ([]*models.ApprovalAudit, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.approvals, nil
}

type mockNotificationReader struct {
	notifications []*models.Notification
	err           error

	gotTypes []string
	gotLimit int
}

func (m *mockNotificationReader) Recent(types []string, limit int) ([]*models.Notification, error) {
	m.gotTypes = types
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.notifications, nil
}

type mockCommandSink struct {
	commands []notify.Command
	err      error
}

func (m *mockCommandSink) SubmitCommand(cmd notify.Command) error {
	if m.err != nil {
		return m.err
	}
	m.commands = append(m.commands, cmd)
	return nil
}

type mockApprover struct {
	confirmErr error
	cancelErr  error

	confirmedPlan string
	confirmedCode string
	cancelledPlan string
}

func (m *mockApprover) Confirm(planID, code string) error {
	m.confirmedPlan = planID
	m.confirmedCode = code
	return m.confirmErr
}

func (m *mockApprover) Cancel(planID, reason string) error {
	m.cancelledPlan = planID
	return m.cancelErr
}

type mockPlanSubmitter struct {
	result *models.ActionPlan
	err    error

	gotPlan *models.ActionPlan
}

func (m *mockPlanSubmitter) SubmitPlan(plan *models.ActionPlan) (*models.ActionPlan, error) {
	m.gotPlan = plan
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return plan, nil
}
