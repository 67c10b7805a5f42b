package models

import "time"

// ActionPlan - многошаговый план действий от внешнего оркестратора/AI
//
// До разрешения (approved/rejected/expired) планом владеет Approval Workflow.
// После разрешения план отбрасывается, остаётся только audit-запись.
type ActionPlan struct {
	ID              string     `json:"id"`
	Steps           []PlanStep `json:"steps"`
	PolicyTag       string     `json:"policy_tag"`       // класс плана для policy-правил
	Mode            string     `json:"mode"`             // live, paper
	RequireApproval bool       `json:"require_approval"` // нужен ли человек в контуре
	State           string     `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PlanStep - один шаг плана (открытие/закрытие/модификация позиции)
type PlanStep struct {
	Kind       string           `json:"kind"`                  // open, close, modify
	Signal     *CandidateSignal `json:"signal,omitempty"`      // для open
	PositionID string           `json:"position_id,omitempty"` // для close/modify
	Symbol     string           `json:"symbol"`
	Volume     float64          `json:"volume"`
	MaxVolume  float64          `json:"max_volume"`            // явная верхняя граница объёма (size bound)
	StopLoss   float64          `json:"stop_loss,omitempty"`
	TakeProfit float64          `json:"take_profit,omitempty"`
	Reason     string           `json:"reason,omitempty"`      // для close
}

// Виды шагов плана
const (
	StepKindOpen   = "open"
	StepKindClose  = "close"
	StepKindModify = "modify"
)

// Режимы исполнения
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// Состояния плана (state machine в internal/approval)
const (
	PlanStateProposed      = "PROPOSED"       // план получен
	PlanStateSchemaValid   = "SCHEMA_VALID"   // структура проверена
	PlanStatePolicyChecked = "POLICY_CHECKED" // policy-правила пройдены
	PlanStateAutoApproved  = "AUTO_APPROVED"  // одобрен автоматически (low-risk класс)
	PlanStatePendingHuman  = "PENDING_HUMAN"  // ожидание кода подтверждения
	PlanStateApproved      = "APPROVED"       // одобрен, шаги идут в Gating Engine
	PlanStateRejected      = "REJECTED"       // отклонён (схема/policy/оператор)
	PlanStateExpired       = "EXPIRED"        // код не пришёл вовремя / shutdown
)

// IsTerminal возвращает true для конечных состояний плана
func IsTerminalPlanState(s string) bool {
	return s == PlanStateApproved || s == PlanStateRejected || s == PlanStateExpired
}
