package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentops/internal/audit"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"github.com/xela07ax/spaceai-agentops/internal/platform"
	"go.uber.org/zap"
)

const executionLockTTL = 10 * time.Minute

// ApprovalAPI: операции платформы, нужные для исполнения одобренных действий.
type ApprovalAPI interface {
	GetRemediation(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListRemediations(ctx context.Context, status domain.ApprovalStatus) ([]domain.ApprovalRequest, error)
	UpdateRemediation(ctx context.Context, id string, upd platform.RemediationUpdate) error
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
}

// ApprovalListener исполняет действия после решения оператора.
// Решения приходят в Pub/Sub как "<remediationId>:<true|false>".
type ApprovalListener struct {
	rdb      *redis.Client
	api      ApprovalAPI
	executor *Executor
	auditor  audit.Auditor
	logger   *zap.Logger
}

func NewApprovalListener(rdb *redis.Client, api ApprovalAPI, executor *Executor, auditor audit.Auditor, logger *zap.Logger) *ApprovalListener {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &ApprovalListener{rdb: rdb, api: api, executor: executor, auditor: auditor, logger: logger.Named("approvals")}
}

// Start блокирует до отмены ctx. При каждом (пере)подключении добирает
// одобренные, но не исполненные записи.
func (l *ApprovalListener) Start(ctx context.Context) {
	engine.ListenStateResilient(ctx, l.rdb, l.logger, infra.RedisChanRemediationDecisions,
		func() error { return l.Reconcile(ctx) },
		func(id string, approved bool) { l.HandleDecision(ctx, id, approved) },
	)
}

// Reconcile исполняет все записи в статусе approved.
func (l *ApprovalListener) Reconcile(ctx context.Context) error {
	approved, err := l.api.ListRemediations(ctx, domain.ApprovalApproved)
	if err != nil {
		return fmt.Errorf("list approved remediations: %w", err)
	}
	for _, req := range approved {
		if err := l.execute(engine.WithTraceID(ctx, ""), req.ID); err != nil {
			l.logger.Error("failed to execute approved remediation", zap.String("remediation_id", req.ID), zap.Error(err))
		}
	}
	return nil
}

// HandleDecision обрабатывает одно решение. Каждое решение получает свой trace id.
func (l *ApprovalListener) HandleDecision(ctx context.Context, id string, approved bool) {
	ctx = engine.WithTraceID(ctx, "")
	if !approved {
		if err := l.reject(ctx, id); err != nil {
			l.logger.Error("failed to reject remediation", zap.String("remediation_id", id), zap.Error(err))
		}
		return
	}
	if err := l.execute(ctx, id); err != nil {
		l.logger.Error("failed to execute approved remediation", zap.String("remediation_id", id), zap.Error(err))
	}
}

// reject переводит pending запись в rejected. Обработанные записи не трогаются.
func (l *ApprovalListener) reject(ctx context.Context, id string) error {
	req, err := l.api.GetRemediation(ctx, id)
	if err != nil {
		return fmt.Errorf("get remediation: %w", err)
	}
	if err := req.CanTransitionTo(domain.ApprovalRejected); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) || req.Status == domain.ApprovalApproved {
			l.logger.Info("remediation already decided", zap.String("remediation_id", id), zap.String("status", string(req.Status)))
			return nil
		}
		return err
	}

	upd := platform.RemediationUpdate{
		Status:  domain.ApprovalRejected,
		Details: map[string]any{"rejectedAt": time.Now().UTC()},
	}
	if err := l.api.UpdateRemediation(ctx, id, upd); err != nil {
		return fmt.Errorf("update remediation status: %w", err)
	}

	l.logger.Info("remediation rejected by operator", zap.String("remediation_id", id), zap.String("action", string(req.Action)))
	ev := audit.NewEvent(audit.KindApproval, req.TenantID, string(req.Action), id)
	ev.TraceID = engine.TraceID(ctx)
	ev.Status = string(domain.ApprovalRejected)
	l.auditor.Log(ev)
	return nil
}

func (l *ApprovalListener) execute(ctx context.Context, id string) error {
	// 1. Один исполнитель на запись среди всех инстансов
	lockKey := infra.RedisKeyLockRemediationRun + id
	locked, err := l.rdb.SetNX(ctx, lockKey, "running", executionLockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire execution lock: %w", err)
	}
	if !locked {
		l.logger.Debug("remediation is being executed elsewhere", zap.String("remediation_id", id))
		return nil
	}
	// Блокировка снимается, только если до исполнения дело не дошло
	dispatched := false
	defer func() {
		if !dispatched {
			l.rdb.Del(context.WithoutCancel(ctx), lockKey)
		}
	}()

	// 2. Актуальное состояние записи
	req, err := l.api.GetRemediation(ctx, id)
	if err != nil {
		return fmt.Errorf("get remediation: %w", err)
	}
	if req.Status == domain.ApprovalPending {
		// решение опубликовано раньше, чем платформа сохранила статус
		if err := l.api.UpdateRemediation(ctx, id, platform.RemediationUpdate{
			Status:  domain.ApprovalApproved,
			Details: map[string]any{"approvedAt": time.Now().UTC()},
		}); err != nil {
			return fmt.Errorf("mark remediation approved: %w", err)
		}
		req.Status = domain.ApprovalApproved
	}
	if err := req.CanTransitionTo(domain.ApprovalExecuted); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			l.logger.Info("remediation already processed", zap.String("remediation_id", id), zap.String("status", string(req.Status)))
			return nil
		}
		return err
	}

	tenantID, err := l.tenantOf(ctx, req)
	if err != nil {
		return err
	}

	// 3. Исполнение и фиксация результата
	dispatched = true
	res := l.executor.Dispatch(ctx, tenantID, req.ToAction())

	upd := platform.RemediationUpdate{Status: domain.ApprovalExecuted, Result: res.Message}
	if !res.Success {
		upd = platform.RemediationUpdate{Status: domain.ApprovalFailed, Error: res.Error}
	}
	upd.Details = map[string]any{"mode": res.Mode, "executedAt": time.Now().UTC()}
	if err := l.api.UpdateRemediation(ctx, id, upd); err != nil {
		return fmt.Errorf("update remediation status: %w", err)
	}

	l.logger.Info("approved remediation processed",
		zap.String("remediation_id", id),
		zap.String("action", string(req.Action)),
		zap.String("status", string(upd.Status)))
	return nil
}

func (l *ApprovalListener) tenantOf(ctx context.Context, req *domain.ApprovalRequest) (string, error) {
	if req.TenantID != "" {
		return req.TenantID, nil
	}
	incident, err := l.api.GetIncident(ctx, req.IncidentID)
	if err != nil {
		return "", fmt.Errorf("resolve tenant of remediation %s: %w", req.ID, err)
	}
	return incident.TenantID, nil
}

// DecisionPublisher рассылает решения оператора в канал, который слушает ApprovalListener.
type DecisionPublisher struct {
	rdb *redis.Client
}

func NewDecisionPublisher(rdb *redis.Client) *DecisionPublisher {
	return &DecisionPublisher{rdb: rdb}
}

func (p *DecisionPublisher) PublishDecision(ctx context.Context, id string, approved bool) error {
	if id == "" {
		return errors.New("remediation id is required")
	}
	msg := fmt.Sprintf("%s:%t", id, approved)
	if err := p.rdb.Publish(ctx, infra.RedisChanRemediationDecisions, msg).Err(); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}
