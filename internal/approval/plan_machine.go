package approval

import "orchestrator/internal/models"

// ValidTransitions определяет допустимые переходы состояний плана
var ValidTransitions = map[string][]string{
	models.PlanStateProposed:      {models.PlanStateSchemaValid, models.PlanStateRejected},
	models.PlanStateSchemaValid:   {models.PlanStatePolicyChecked, models.PlanStateRejected},
	models.PlanStatePolicyChecked: {models.PlanStateAutoApproved, models.PlanStatePendingHuman, models.PlanStateRejected},
	models.PlanStatePendingHuman:  {models.PlanStateApproved, models.PlanStateRejected, models.PlanStateExpired},
	// Терминальные состояния переходов не имеют
	models.PlanStateAutoApproved: {},
	models.PlanStateApproved:     {},
	models.PlanStateRejected:     {},
	models.PlanStateExpired:      {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.PlanStateProposed:
		return "План получен, ожидает проверки"
	case models.PlanStateSchemaValid:
		return "Структура плана проверена"
	case models.PlanStatePolicyChecked:
		return "Policy-правила пройдены"
	case models.PlanStateAutoApproved:
		return "Одобрен автоматически (low-risk класс)"
	case models.PlanStatePendingHuman:
		return "Ожидание кода подтверждения от оператора"
	case models.PlanStateApproved:
		return "Одобрен оператором"
	case models.PlanStateRejected:
		return "Отклонён"
	case models.PlanStateExpired:
		return "Истёк без подтверждения"
	default:
		return "Неизвестное состояние"
	}
}

// IsExecutable возвращает true если шаги плана можно исполнять
func IsExecutable(s string) bool {
	return s == models.PlanStateApproved || s == models.PlanStateAutoApproved
}
