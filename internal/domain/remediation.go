package domain

import (
	"errors"
	"time"
)

// ActionType: тип корректирующего действия из фиксированного каталога.
type ActionType string

const (
	ActionRestartService     ActionType = "restart_service"
	ActionScaleUp            ActionType = "scale_up"
	ActionScaleDown          ActionType = "scale_down"
	ActionRollbackDeployment ActionType = "rollback_deployment"
	ActionClearCache         ActionType = "clear_cache"
	ActionRestartPod         ActionType = "restart_pod"
	ActionDrainNode          ActionType = "drain_node"
	ActionTriggerFailover    ActionType = "trigger_failover"
)

// RiskLevel: уровень риска действия.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RemediationAction: предложенное действие. Risk и RequiresApproval
// всегда берутся из статического каталога, а не из ответа модели.
type RemediationAction struct {
	Type             ActionType     `json:"action_type"`
	Target           string         `json:"target"`
	Description      string         `json:"description"`
	Risk             RiskLevel      `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

// ActionOutcome: результат одного обработчика.
type ActionOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Mode    string `json:"mode,omitempty"` // LIVE или SANDBOX
}

func Done(msg string) ActionOutcome {
	return ActionOutcome{Success: true, Message: msg, Mode: ModeLive}
}

func Failed(err string) ActionOutcome {
	return ActionOutcome{Success: false, Error: err, Mode: ModeLive}
}

const (
	ModeLive    = "LIVE"
	ModeSandbox = "SANDBOX"
)

// ExecutedAction: запись в executed_actions.
type ExecutedAction struct {
	Action ActionType    `json:"action"`
	Target string        `json:"target"`
	Result ActionOutcome `json:"result"`
}

// FailedAction: запись в failed_actions.
type FailedAction struct {
	Action ActionType `json:"action"`
	Target string     `json:"target"`
	Error  string     `json:"error"`
}

// PendingAction: действие, ожидающее подтверждения (только тип и цель).
type PendingAction struct {
	Action ActionType `json:"action"`
	Target string     `json:"target"`
}

// RemediationReport: агрегат одного прогона исполнителя.
// Инвариант: len(Executed)+len(Failed) == число auto-действий,
// len(PendingApproval) == число действий с обязательным подтверждением.
type RemediationReport struct {
	Executed         []ExecutedAction  `json:"executed_actions"`
	Failed           []FailedAction    `json:"failed_actions"`
	PendingApproval  []PendingAction   `json:"pending_approval"`
	ApprovalRequests []ApprovalRequest `json:"approval_requests"`
}

// Статусы записи /remediations (State Machine подтверждения).
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalFailed   ApprovalStatus = "failed"
)

var ErrAlreadyProcessed = errors.New("remediation request already processed")

// ApprovalRequest: запись на стороне платформы, ожидающая решения оператора.
type ApprovalRequest struct {
	ID          string         `json:"id,omitempty"`
	TenantID    string         `json:"tenantId,omitempty"`
	IncidentID  string         `json:"incidentId"`
	Action      ActionType     `json:"action"`
	Target      string         `json:"target"`
	Description string         `json:"description"`
	RiskLevel   RiskLevel      `json:"riskLevel"`
	Status      ApprovalStatus `json:"status"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty"`

	// Error заполняется локально, если запись создать не удалось.
	Error string `json:"error,omitempty"`
}

// NewApprovalRequest готовит тело POST /remediations.
func NewApprovalRequest(incidentID string, a RemediationAction) ApprovalRequest {
	return ApprovalRequest{
		IncidentID:  incidentID,
		Action:      a.Type,
		Target:      a.Target,
		Description: a.Description,
		RiskLevel:   a.Risk,
		Status:      ApprovalPending,
		Parameters:  a.Parameters,
	}
}

// ToAction восстанавливает действие из одобренной записи.
func (r ApprovalRequest) ToAction() RemediationAction {
	return RemediationAction{
		Type:             r.Action,
		Target:           r.Target,
		Description:      r.Description,
		Risk:             r.RiskLevel,
		RequiresApproval: true,
		Parameters:       r.Parameters,
	}
}

// CanTransitionTo проверяет правила конечного автомата:
// pending -> approved|rejected, approved -> executed|failed.
func (r ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	switch r.Status {
	case ApprovalPending:
		if next == ApprovalApproved || next == ApprovalRejected {
			return nil
		}
	case ApprovalApproved:
		if next == ApprovalExecuted || next == ApprovalFailed {
			return nil
		}
	default:
		return ErrAlreadyProcessed
	}
	return ErrInvalidTransition
}
