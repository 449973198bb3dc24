package agent

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"go.uber.org/zap"
)

// RemediationAPI: инцидент читается с платформы.
type RemediationAPI interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
}

// Planner предлагает действия по инциденту.
type Planner interface {
	Plan(ctx context.Context, incident domain.Incident) []domain.RemediationAction
}

// Executor исполняет план.
type Executor interface {
	Run(ctx context.Context, tenantID string, incident domain.Incident, actions []domain.RemediationAction) domain.RemediationReport
}

type Remediation struct {
	api      RemediationAPI
	planner  Planner
	executor Executor
	logger   *zap.Logger
}

func NewRemediation(api RemediationAPI, planner Planner, executor Executor, logger *zap.Logger) *Remediation {
	return &Remediation{api: api, planner: planner, executor: executor, logger: logger.Named("remediation")}
}

func (a *Remediation) Type() domain.AgentType { return domain.AgentRemediation }
func (a *Remediation) Name() string           { return "Remediation Agent" }

func (a *Remediation) Execute(ctx context.Context, actx domain.AgentContext) (*domain.AgentResult, error) {
	if actx.IncidentID == "" {
		return domain.Failure("No incident_id provided for remediation"), nil
	}
	if err := actx.Validate(); err != nil {
		return domain.Failure(err.Error()), nil
	}
	log := a.logger.With(zap.String("tenant_id", actx.TenantID), zap.String("incident_id", actx.IncidentID))
	log.Info("starting remediation")

	incident, failure := loadIncident(ctx, a.api.GetIncident, actx.IncidentID)
	if failure != nil {
		return failure, nil
	}

	actions := a.planner.Plan(ctx, *incident)
	if len(actions) == 0 {
		return domain.Succeeded(
			map[string]any{"message": "No automatic remediation actions available"},
			nil,
			[]string{"Manual intervention required"},
		), nil
	}

	report := a.executor.Run(ctx, actx.TenantID, *incident, actions)
	log.Info("remediation finished",
		zap.Int("executed", len(report.Executed)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("pending", len(report.PendingApproval)))

	return domain.Succeeded(map[string]any{
		"incident_id":       actx.IncidentID,
		"executed_actions":  report.Executed,
		"failed_actions":    report.Failed,
		"pending_approval":  report.PendingApproval,
		"approval_requests": report.ApprovalRequests,
	}, []string{
		fmt.Sprintf("Executed %d auto-approved actions", len(report.Executed)),
		fmt.Sprintf("Created %d approval requests", len(report.PendingApproval)),
	}, nil), nil
}
