// Package scheduler содержит основной цикл: очередь задач платформы и плановые запуски агентов.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xela07ax/spaceai-agentops/internal/agent"
	"github.com/xela07ax/spaceai-agentops/internal/audit"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

const (
	claimedCacheSize = 4096
	// statusUpdateTimeout ограничивает один PATCH статуса задачи.
	statusUpdateTimeout = 30 * time.Second
)

// TaskAPI: очередь agent-tasks на стороне платформы.
type TaskAPI interface {
	ListPendingTasks(ctx context.Context) ([]domain.AgentTask, error)
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) error
}

// Registry отдает экземпляр агента по типу.
type Registry interface {
	Get(t domain.AgentType) (agent.Agent, bool)
}

type Options struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	TaskTimeout  time.Duration
	MaxSkips     int
	Schedules    map[domain.AgentType]time.Duration
	Tenants      []string
}

// OptionsFromConfig переводит секцию scheduler. Неизвестные типы в schedules отбрасываются.
func OptionsFromConfig(cfg infra.SchedulerConfig) (Options, error) {
	opts := Options{
		PollInterval: cfg.PollInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		TaskTimeout:  cfg.TaskTimeout,
		MaxSkips:     cfg.MaxSkips,
		Schedules:    make(map[domain.AgentType]time.Duration, len(cfg.Schedules)),
		Tenants:      cfg.Tenants,
	}
	for name, every := range cfg.Schedules {
		t, ok := domain.ParseAgentType(name)
		if !ok {
			return Options{}, fmt.Errorf("scheduler: unknown agent type %q in schedules", name)
		}
		opts.Schedules[t] = every
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 30 * time.Second
	}
	if o.MaxSkips < 1 {
		o.MaxSkips = 3
	}
	return o
}

type Scheduler struct {
	api     TaskAPI
	agents  Registry
	opts    Options
	auditor audit.Auditor
	metrics *engine.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// skips и claimed трогает только цикл
	skips   map[string]int
	claimed *lru.Cache[string, struct{}]

	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	lastRun map[domain.AgentType]time.Time
	state   LoopState
}

// LoopState: счетчики основного цикла.
type LoopState struct {
	Running       bool      `json:"running"`
	Iterations    int64     `json:"iterations"`
	LastIteration time.Time `json:"last_iteration,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	TasksExecuted int64     `json:"tasks_executed"`
}

func New(api TaskAPI, agents Registry, opts Options, auditor audit.Auditor, metrics *engine.Metrics, logger *zap.Logger) *Scheduler {
	claimed, _ := lru.New[string, struct{}](claimedCacheSize)
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Scheduler{
		api:     api,
		agents:  agents,
		opts:    opts.withDefaults(),
		auditor: auditor,
		metrics: metrics,
		logger:  logger.Named("scheduler"),
		now:     time.Now,
		skips:   make(map[string]int),
		claimed: claimed,
		stop:    make(chan struct{}),
		lastRun: make(map[domain.AgentType]time.Time),
	}
}

// Run крутит цикл до отмены ctx или Stop. Выполняемая задача не прерывается.
func (s *Scheduler) Run(ctx context.Context) {
	s.setRunning(true)
	defer s.setRunning(false)
	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Int("tenants", len(s.opts.Tenants)))

	for {
		if s.stopped(ctx) {
			s.logger.Info("scheduler stopped")
			return
		}

		wait := s.opts.PollInterval
		if err := s.iterate(ctx); err != nil {
			s.logger.Error("scheduler iteration failed", zap.Error(err), zap.Duration("backoff", s.opts.ErrorBackoff))
			s.metrics.SchedulerIterations.WithLabelValues("error").Inc()
			wait = s.opts.ErrorBackoff
			s.markIteration(err)
		} else {
			s.metrics.SchedulerIterations.WithLabelValues("ok").Inc()
			s.markIteration(nil)
		}

		if !s.sleep(ctx, wait) {
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// Stop: кооперативная остановка, проверяется раз за итерацию.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping scheduler")
		close(s.stop)
	})
}

func (s *Scheduler) stopped(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

// iterate: один проход: очередь, затем плановые запуски. Паника становится ошибкой итерации.
func (s *Scheduler) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler iteration panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()

	if err := s.ProcessPending(ctx); err != nil {
		return err
	}
	s.RunDue(ctx)
	return nil
}

// ProcessPending выполняет все PENDING задачи последовательно.
func (s *Scheduler) ProcessPending(ctx context.Context) error {
	tasks, err := s.api.ListPendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}

	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		seen[task.ID] = struct{}{}
		s.executeTask(ctx, task)
	}

	// счетчики пропусков живут, пока задача видна в очереди
	for id := range s.skips {
		if _, ok := seen[id]; !ok {
			delete(s.skips, id)
		}
	}
	return nil
}

// executeTask доводит задачу до терминального статуса. Ничего не выходит наружу.
func (s *Scheduler) executeTask(ctx context.Context, task domain.AgentTask) {
	log := s.logger.With(zap.String("task_id", task.ID), zap.String("agent_type", task.AgentType), zap.String("tenant_id", task.TenantID))

	if task.Status != "" && task.Status != domain.TaskPending {
		log.Debug("task is not pending, skipping", zap.String("status", string(task.Status)))
		return
	}
	if s.claimed.Contains(task.ID) {
		log.Warn("task already claimed by this process, skipping stale pending record")
		return
	}

	// Отмена цикла не прерывает начатую задачу: ее ограничивает только TaskTimeout.
	// Один trace id на все вызовы и события задачи.
	ctx = engine.WithTraceID(context.WithoutCancel(ctx), "")
	log = log.With(zap.String("trace_id", engine.TraceID(ctx)))

	// 1. Тип и экземпляр агента
	ag, reason := s.resolve(task)
	if ag == nil {
		s.skip(ctx, task, reason, log)
		return
	}
	delete(s.skips, task.ID)

	// 2. PENDING -> RUNNING до вызова агента
	if err := s.updateTask(ctx, task.ID, domain.Running()); err != nil {
		log.Warn("failed to mark task running, agent not invoked", zap.Error(err))
		return
	}
	s.claimed.Add(task.ID, struct{}{})
	log.Info("executing task")

	// 3. Вызов агента
	started := s.now()
	res, err := s.invoke(ctx, ag, task.Context())
	took := s.now().Sub(started)

	// 4. RUNNING -> COMPLETED | FAILED
	var upd domain.TaskUpdate
	if err != nil {
		upd = domain.Crashed(err.Error(), s.now().UTC())
	} else {
		upd = domain.Finished(res, s.now().UTC())
	}
	if err := s.updateTask(ctx, task.ID, upd); err != nil {
		log.Error("failed to store task result", zap.String("status", string(upd.Status)), zap.Error(err))
	}

	s.metrics.TasksTotal.WithLabelValues(string(ag.Type()), string(upd.Status)).Inc()
	s.metrics.TaskDuration.WithLabelValues(string(ag.Type())).Observe(took.Seconds())
	s.countTask()

	ev := audit.NewEvent(audit.KindTask, task.TenantID, string(ag.Type()), task.ID)
	ev.TraceID = engine.TraceID(ctx)
	ev.Payload = map[string]any{"trigger": task.Trigger, "website_id": task.WebsiteID, "incident_id": task.IncidentID}
	ev.Status = string(upd.Status)
	ev.Response = upd.Output
	ev.Error = upd.ErrorMessage
	ev.DurationMs = took.Milliseconds()
	s.auditor.Log(ev)

	log.Info("task finished", zap.String("status", string(upd.Status)), zap.Duration("took", took))
}

func (s *Scheduler) resolve(task domain.AgentTask) (agent.Agent, string) {
	t, ok := domain.ParseAgentType(task.AgentType)
	if !ok {
		return nil, fmt.Sprintf("unknown agent type: %s", task.AgentType)
	}
	ag, ok := s.agents.Get(t)
	if !ok {
		return nil, fmt.Sprintf("agent not found: %s", t)
	}
	return ag, ""
}

// skip оставляет задачу PENDING, пока счетчик не дойдет до MaxSkips.
// Затем задача забирается и закрывается FAILED.
func (s *Scheduler) skip(ctx context.Context, task domain.AgentTask, reason string, log *zap.Logger) {
	s.metrics.TaskSkips.Inc()
	s.skips[task.ID]++
	n := s.skips[task.ID]
	if n < s.opts.MaxSkips {
		log.Warn("skipping task", zap.String("reason", reason), zap.Int("skips", n))
		return
	}

	log.Error("giving up on task", zap.String("reason", reason), zap.Int("skips", n))
	if err := s.updateTask(ctx, task.ID, domain.Running()); err != nil {
		log.Warn("failed to claim unresolvable task", zap.Error(err))
		return
	}
	s.claimed.Add(task.ID, struct{}{})
	delete(s.skips, task.ID)

	msg := fmt.Sprintf("%s (skipped %d times)", reason, n)
	if err := s.updateTask(ctx, task.ID, domain.Crashed(msg, s.now().UTC())); err != nil {
		log.Error("failed to fail unresolvable task", zap.Error(err))
	}
	s.metrics.TasksTotal.WithLabelValues("unknown", string(domain.TaskFailed)).Inc()

	ev := audit.NewEvent(audit.KindTask, task.TenantID, task.AgentType, task.ID)
	ev.TraceID = engine.TraceID(ctx)
	ev.Status = string(domain.TaskFailed)
	ev.Error = msg
	s.auditor.Log(ev)
}

// updateTask отправляет PATCH статуса, даже если ctx уже отменен.
func (s *Scheduler) updateTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
	defer cancel()
	return s.api.UpdateTask(ctx, id, upd)
}

// invoke вызывает агента с дедлайном задачи и ловит панику.
func (s *Scheduler) invoke(ctx context.Context, ag agent.Agent, actx domain.AgentContext) (res *domain.AgentResult, err error) {
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent panicked", zap.String("agent_type", string(ag.Type())), zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res, err = nil, fmt.Errorf("agent panic: %v", r)
		}
	}()
	return ag.Execute(ctx, actx)
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.state.Running = v
	s.mu.Unlock()
}

func (s *Scheduler) markIteration(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Iterations++
	s.state.LastIteration = s.now().UTC()
	s.state.LastError = ""
	if err != nil {
		s.state.LastError = err.Error()
	}
}

func (s *Scheduler) countTask() {
	s.mu.Lock()
	s.state.TasksExecuted++
	s.mu.Unlock()
}
