package repository

import (
	"database/sql"
	"fmt"

	"orchestrator/internal/models"
)

// AuditRepository - работа с таблицами decision_audits и approval_audits
//
// Каждое решение Gating Engine и каждое разрешение ActionPlan
// фиксируются отдельной строкой. Записи append-only.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый экземпляр репозитория
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveDecision сохраняет audit-запись решения Gating Engine
func (r *AuditRepository) SaveDecision(audit *models.DecisionAudit) error {
	gates, err := json.Marshal(audit.Gates)
	if err != nil {
		return fmt.Errorf("marshal gate results: %w", err)
	}

	query := `
		INSERT INTO decision_audits (plan_id, symbol, direction, outcome, size, reason, gates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return r.db.QueryRow(
		query,
		audit.PlanID,
		audit.Symbol,
		audit.Direction,
		audit.Outcome,
		audit.Size,
		audit.Reason,
		gates,
		audit.CreatedAt,
	).Scan(&audit.ID)
}

// GetRecentDecisions возвращает последние решения (новые сверху)
func (r *AuditRepository) GetRecentDecisions(limit int) ([]*models.DecisionAudit, error) {
	query := `
		SELECT id, plan_id, symbol, direction, outcome, size, reason, gates, created_at
		FROM decision_audits
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*models.DecisionAudit
	for rows.Next() {
		audit := &models.DecisionAudit{}
		var gates []byte
		err := rows.Scan(
			&audit.ID,
			&audit.PlanID,
			&audit.Symbol,
			&audit.Direction,
			&audit.Outcome,
			&audit.Size,
			&audit.Reason,
			&gates,
			&audit.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(gates) > 0 {
			if err := json.Unmarshal(gates, &audit.Gates); err != nil {
				return nil, fmt.Errorf("unmarshal gate results: %w", err)
			}
		}
		audits = append(audits, audit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return audits, nil
}

// SaveApproval сохраняет audit-запись разрешения ActionPlan
func (r *AuditRepository) SaveApproval(audit *models.ApprovalAudit) error {
	query := `
		INSERT INTO approval_audits (plan_id, policy_tag, resolution, detail, steps_total, steps_executed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return r.db.QueryRow(
		query,
		audit.PlanID,
		audit.PolicyTag,
		audit.Resolution,
		audit.Detail,
		audit.StepsTotal,
		audit.StepsExecuted,
		audit.CreatedAt,
	).Scan(&audit.ID)
}

// GetRecentApprovals возвращает последние разрешения планов
func (r *AuditRepository) GetRecentApprovals(limit int) ([]*models.ApprovalAudit, error) {
	query := `
		SELECT id, plan_id, policy_tag, resolution, detail, steps_total, steps_executed, created_at
		FROM approval_audits
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*models.ApprovalAudit
	for rows.Next() {
		audit := &models.ApprovalAudit{}
		err := rows.Scan(
			&audit.ID,
			&audit.PlanID,
			&audit.PolicyTag,
			&audit.Resolution,
			&audit.Detail,
			&audit.StepsTotal,
			&audit.StepsExecuted,
			&audit.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		audits = append(audits, audit)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return audits, nil
}
