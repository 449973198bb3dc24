// Package app собирает зависимости процесса из конфигурации. Используется обоими бинарниками.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentops/internal/agent"
	"github.com/xela07ax/spaceai-agentops/internal/audit"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"github.com/xela07ax/spaceai-agentops/internal/llm"
	"github.com/xela07ax/spaceai-agentops/internal/platform"
	"github.com/xela07ax/spaceai-agentops/internal/remediation"
	"github.com/xela07ax/spaceai-agentops/internal/repository/postgres"
	"github.com/xela07ax/spaceai-agentops/internal/risk"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
)

type App struct {
	Config   *infra.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *engine.Metrics

	Redis   *redis.Client
	Pool    *pgxpool.Pool
	Journal *audit.Journal
	Sandbox *engine.SandboxManager

	Platform  *platform.Client
	Analyzer  *llm.Analyzer
	Executor  *remediation.Executor
	Approvals *remediation.ApprovalListener
	Agents    *agent.Registry
}

// New поднимает все зависимости. Недоступные Redis и PostgreSQL не фатальны:
// аудит уходит в лог, песочница работает только из локального состояния.
func New(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = engine.NewMetrics(a.Registry)

	// 1. Redis: песочница, кэш, уведомления, решения операторов
	a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	a.Sandbox = engine.NewSandboxManager(a.Redis, nil, logger)
	if err := a.Sandbox.Init(ctx); err != nil {
		logger.Warn("sandbox warmup failed, starting with empty sandbox set", zap.Error(err))
	}

	// 2. Аудит: PostgreSQL, если задан database.url
	a.Journal = audit.NewJournal(a.auditStore(ctx), cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval, a.Metrics, logger)
	a.Journal.Start()

	// 3. Внешние API под оберткой надежности
	a.Platform = platform.NewClient(cfg.Platform, engine.NewReliabilityWrapper(a.guardSettings("platform"), a.Metrics), logger)
	completer, err := llm.New(cfg.LLM, engine.NewReliabilityWrapper(a.guardSettings("llm"), a.Metrics), logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	a.Analyzer = llm.NewAnalyzer(completer, cfg.LLM.MaxTokens, a.Metrics, logger)

	// 4. Исполнитель действий
	kube := remediation.NewKube(a.kubeClient(), cfg.Remediation, logger)
	a.Executor = remediation.NewExecutor(remediation.ExecutorDeps{
		Handlers: remediation.Handlers{
			risk.FamilyKubernetes: kube.Workloads(),
			risk.FamilyRollback:   kube.Rollback(),
			risk.FamilyService:    kube.ServiceRestart(),
			risk.FamilyCache:      remediation.NewCacheClearer(a.Redis, logger),
		},
		Approvals: a.Platform,
		Notifier:  remediation.NewRedisNotifier(a.Redis, logger),
		Sandbox:   a.Sandbox,
		DryRun:    cfg.Remediation.DryRun,
		Auditor:   a.Journal,
		Metrics:   a.Metrics,
	}, logger)
	a.Approvals = remediation.NewApprovalListener(a.Redis, a.Platform, a.Executor, a.Journal, logger)

	// 5. Агенты
	a.Agents, err = agent.NewRegistry(
		agent.NewMonitoring(a.Platform, agent.NewProber(agent.DefaultThresholds()), a.Analyzer, logger),
		agent.NewIncidents(a.Platform, a.Analyzer, logger),
		agent.NewRCA(a.Platform, a.Analyzer, logger),
		agent.NewRemediation(a.Platform, remediation.NewPlanner(a.Analyzer, logger), a.Executor, logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// guardSettings собирает настройки обертки надежности. Попытку LLM ограничивает llm.timeout.
func (a *App) guardSettings(name string) engine.ReliabilitySettings {
	e := a.Config.Engine
	s := engine.ReliabilitySettings{
		Name:           name,
		RateLimit:      e.RateLimit,
		RateBurst:      e.RateBurst,
		Attempts:       e.RetryAttempts,
		AttemptTimeout: e.AttemptTimeout,
		CBMaxRequests:  e.CBMaxRequests,
		CBInterval:     e.CBInterval,
		CBTimeout:      e.CBTimeout,
	}
	if name == "llm" && a.Config.LLM.Timeout > 0 {
		s.AttemptTimeout = a.Config.LLM.Timeout
	}
	return s
}

func (a *App) auditStore(ctx context.Context) audit.Store {
	if a.Config.Database.URL == "" {
		a.Logger.Info("database.url is empty, audit events go to the log")
		return audit.NewLogStore(a.Logger)
	}
	pool, err := postgres.NewPool(ctx, a.Config.Database)
	if err != nil {
		a.Logger.Warn("audit database unavailable, audit events go to the log", zap.Error(err))
		return audit.NewLogStore(a.Logger)
	}
	repo := postgres.NewAuditRepo(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		a.Logger.Warn("failed to ensure audit schema", zap.Error(err))
	}
	a.Pool = pool
	return repo
}

func (a *App) kubeClient() kubernetes.Interface {
	if !a.Config.Kubernetes.Enabled {
		a.Logger.Info("kubernetes integration disabled")
		return nil
	}
	cs, err := remediation.NewKubeClient(a.Config.Kubernetes)
	if err != nil {
		a.Logger.Warn("kubernetes integration unavailable", zap.Error(err))
		return nil
	}
	return cs
}

// Close сбрасывает аудит и закрывает соединения. Порядок важен: журнал пишет в pool.
func (a *App) Close() {
	if a.Journal != nil {
		a.Journal.Stop()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
