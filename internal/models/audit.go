package models

import "time"

// GateResult - результат одного гейта в pipeline Gating Engine
//
// Values содержит все числовые входы гейта: по записи можно
// восстановить решение без повторного запуска системы.
type GateResult struct {
	Gate   string             `json:"gate"`
	Passed bool               `json:"passed"`
	Reason string             `json:"reason,omitempty"`
	Values map[string]float64 `json:"values,omitempty"`
}

// DecisionAudit - audit-запись решения Gating Engine
type DecisionAudit struct {
	ID        int          `json:"id" db:"id"`
	PlanID    string       `json:"plan_id" db:"plan_id"`
	Symbol    string       `json:"symbol" db:"symbol"`
	Direction string       `json:"direction" db:"direction"`
	Outcome   string       `json:"outcome" db:"outcome"` // approve, resize, reject
	Size      float64      `json:"size" db:"size"`
	Reason    string       `json:"reason,omitempty" db:"reason"`
	Gates     []GateResult `json:"gates" db:"gates"` // JSON в БД
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// ApprovalAudit - audit-запись разрешения ActionPlan
type ApprovalAudit struct {
	ID            int       `json:"id" db:"id"`
	PlanID        string    `json:"plan_id" db:"plan_id"`
	PolicyTag     string    `json:"policy_tag" db:"policy_tag"`
	Resolution    string    `json:"resolution" db:"resolution"` // конечное состояние плана
	Detail        string    `json:"detail,omitempty" db:"detail"`
	StepsTotal    int       `json:"steps_total" db:"steps_total"`
	StepsExecuted int       `json:"steps_executed" db:"steps_executed"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Исходы решения Gating Engine
const (
	OutcomeApprove = "approve"
	OutcomeResize  = "resize"
	OutcomeReject  = "reject"
)
