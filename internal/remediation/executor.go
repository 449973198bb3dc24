package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/audit"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/risk"
	"go.uber.org/zap"
)

// ApprovalStore: внешнее хранилище записей /remediations.
type ApprovalStore interface {
	CreateRemediation(ctx context.Context, req domain.ApprovalRequest) (*domain.ApprovalRequest, error)
}

// SandboxChecker сообщает, что действия тенанта нужно только симулировать.
type SandboxChecker interface {
	IsSandbox(tenantID string) bool
}

// Handlers: обработчики по семействам каталога.
type Handlers map[risk.Family]Handler

// ExecutorDeps: зависимости исполнителя. Nil-поля заменяются безопасными заглушками.
type ExecutorDeps struct {
	Handlers  Handlers
	Approvals ApprovalStore
	Notifier  Notifier
	Sandbox   SandboxChecker
	DryRun    bool
	Auditor   audit.Auditor
	Metrics   *engine.Metrics
}

type Executor struct {
	handlers  Handlers
	approvals ApprovalStore
	notifier  Notifier
	sandbox   SandboxChecker
	dryRun    bool
	auditor   audit.Auditor
	metrics   *engine.Metrics
	logger    *zap.Logger
}

func NewExecutor(deps ExecutorDeps, logger *zap.Logger) *Executor {
	e := &Executor{
		handlers:  deps.Handlers,
		approvals: deps.Approvals,
		notifier:  deps.Notifier,
		sandbox:   deps.Sandbox,
		dryRun:    deps.DryRun,
		auditor:   deps.Auditor,
		metrics:   deps.Metrics,
		logger:    logger.Named("executor"),
	}
	if e.handlers == nil {
		e.handlers = Handlers{}
	}
	if e.auditor == nil {
		e.auditor = audit.Nop{}
	}
	if e.metrics == nil {
		e.metrics = engine.NewMetrics(nil)
	}
	return e
}

// Run делит действия на auto и pending, исполняет auto по порядку,
// создает записи на подтверждение и отправляет одно уведомление.
func (e *Executor) Run(ctx context.Context, tenantID string, incident domain.Incident, actions []domain.RemediationAction) domain.RemediationReport {
	report := domain.RemediationReport{
		Executed:         []domain.ExecutedAction{},
		Failed:           []domain.FailedAction{},
		PendingApproval:  []domain.PendingAction{},
		ApprovalRequests: []domain.ApprovalRequest{},
	}

	var auto, pending []domain.RemediationAction
	for _, a := range actions {
		if a.RequiresApproval {
			pending = append(pending, a)
		} else {
			auto = append(auto, a)
		}
	}

	// 1. Auto-действия последовательно, в порядке плана
	for _, a := range auto {
		res := e.Dispatch(ctx, tenantID, a)
		if res.Success {
			report.Executed = append(report.Executed, domain.ExecutedAction{Action: a.Type, Target: a.Target, Result: res})
		} else {
			report.Failed = append(report.Failed, domain.FailedAction{Action: a.Type, Target: a.Target, Error: res.Error})
		}
	}

	// 2. Запросы на подтверждение
	for _, a := range pending {
		report.PendingApproval = append(report.PendingApproval, domain.PendingAction{Action: a.Type, Target: a.Target})
		report.ApprovalRequests = append(report.ApprovalRequests, e.requestApproval(ctx, tenantID, incident.ID, a))
	}

	// 3. Уведомление, если было что исполнять
	if len(actions) > 0 && e.notifier != nil {
		e.notifier.Notify(ctx, tenantID, incident, report)
	}
	return report
}

// Dispatch исполняет одно действие через обработчик его семейства.
// Используется и для одобренных оператором действий.
func (e *Executor) Dispatch(ctx context.Context, tenantID string, a domain.RemediationAction) (res domain.ActionOutcome) {
	start := time.Now()
	mode := domain.ModeLive
	if e.simulated(tenantID) {
		mode = domain.ModeSandbox
	}

	defer func() {
		if r := recover(); r != nil {
			res = domain.Failed(fmt.Sprintf("handler panic: %v", r))
		}
		res.Mode = mode
		e.record(ctx, tenantID, a, res, time.Since(start))
	}()

	entry, known := risk.Lookup(a.Type)
	if !known {
		return domain.Failed(fmt.Sprintf("unknown action type: %s", a.Type))
	}
	handler, ok := e.handlers[entry.Family]
	if !ok || entry.Family == risk.FamilyNone {
		return domain.Failed(fmt.Sprintf("no handler for action type: %s", a.Type))
	}

	if mode == domain.ModeSandbox {
		e.logger.Info("simulating action",
			zap.String("tenant_id", tenantID),
			zap.String("action", string(a.Type)),
			zap.String("target", a.Target))
		return domain.Done(fmt.Sprintf("simulated %s on %s", a.Type, a.Target))
	}

	e.logger.Info("executing action",
		zap.String("tenant_id", tenantID),
		zap.String("action", string(a.Type)),
		zap.String("target", a.Target),
		zap.String("trace_id", engine.TraceID(ctx)))
	return handler.Handle(ctx, tenantID, a)
}

func (e *Executor) simulated(tenantID string) bool {
	if e.dryRun {
		return true
	}
	return e.sandbox != nil && e.sandbox.IsSandbox(tenantID)
}

func (e *Executor) requestApproval(ctx context.Context, tenantID, incidentID string, a domain.RemediationAction) domain.ApprovalRequest {
	req := domain.NewApprovalRequest(incidentID, a)
	req.TenantID = tenantID
	e.metrics.RemediationActions.WithLabelValues(string(a.Type), "pending_approval").Inc()

	if e.approvals == nil {
		req.Error = "approval store is not configured"
		return req
	}
	created, err := e.approvals.CreateRemediation(ctx, req)
	if err != nil {
		e.logger.Error("failed to create approval request",
			zap.String("incident_id", incidentID),
			zap.String("action", string(a.Type)),
			zap.Error(err))
		req.Error = err.Error()
		return req
	}
	return *created
}

func (e *Executor) record(ctx context.Context, tenantID string, a domain.RemediationAction, res domain.ActionOutcome, took time.Duration) {
	status := "executed"
	switch {
	case !res.Success:
		status = "failed"
	case res.Mode == domain.ModeSandbox:
		status = "simulated"
	}
	e.metrics.RemediationActions.WithLabelValues(string(a.Type), status).Inc()

	ev := audit.NewEvent(audit.KindAction, tenantID, string(a.Type), a.Target)
	ev.TraceID = engine.TraceID(ctx)
	ev.Mode = res.Mode
	ev.Status = status
	ev.Payload = map[string]any{"description": a.Description, "risk_level": a.Risk, "parameters": a.Parameters}
	ev.Response = res
	ev.Error = res.Error
	ev.DurationMs = took.Milliseconds()
	e.auditor.Log(ev)
}
