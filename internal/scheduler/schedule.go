package scheduler

import (
	"context"
	"slices"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/agent"
	"github.com/xela07ax/spaceai-agentops/internal/audit"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"go.uber.org/zap"
)

// RunDue запускает типы агентов, у которых истек интервал с прошлого запуска.
// Без тенантов запуск только отмечается.
func (s *Scheduler) RunDue(ctx context.Context) {
	for _, t := range s.due(s.now()) {
		if len(s.opts.Tenants) == 0 {
			s.logger.Debug("scheduled run due, no tenants configured", zap.String("agent_type", string(t)))
			continue
		}
		ag, ok := s.agents.Get(t)
		if !ok {
			s.logger.Warn("scheduled agent is not registered", zap.String("agent_type", string(t)))
			continue
		}
		for _, tenant := range s.opts.Tenants {
			if s.stopped(ctx) {
				return
			}
			s.runScheduled(ctx, ag, tenant)
		}
	}
}

// due отмечает и возвращает типы, которым пора запускаться, в порядке AllAgentTypes.
func (s *Scheduler) due(now time.Time) []domain.AgentType {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AgentType
	for _, t := range domain.AllAgentTypes {
		every, ok := s.opts.Schedules[t]
		if !ok {
			continue
		}
		last, seen := s.lastRun[t]
		if seen && now.Sub(last) < every {
			continue
		}
		s.lastRun[t] = now
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) runScheduled(ctx context.Context, ag agent.Agent, tenantID string) {
	ctx = engine.WithTraceID(context.WithoutCancel(ctx), "")
	log := s.logger.With(zap.String("agent_type", string(ag.Type())), zap.String("tenant_id", tenantID),
		zap.String("trace_id", engine.TraceID(ctx)))
	actx := domain.AgentContext{TenantID: tenantID, Trigger: domain.TriggerScheduled}

	started := s.now()
	res, err := s.invoke(ctx, ag, actx)
	took := s.now().Sub(started)

	status := domain.TaskCompleted
	errMsg := ""
	switch {
	case err != nil:
		status, errMsg = domain.TaskFailed, err.Error()
	case res == nil:
		status, errMsg = domain.TaskFailed, "agent returned no result"
	case !res.Success:
		status, errMsg = domain.TaskFailed, res.Error
	}
	if status == domain.TaskFailed {
		log.Warn("scheduled run failed", zap.String("error", errMsg))
	} else {
		log.Info("scheduled run finished", zap.Duration("took", took))
	}

	s.metrics.TasksTotal.WithLabelValues(string(ag.Type()), string(status)).Inc()
	s.metrics.TaskDuration.WithLabelValues(string(ag.Type())).Observe(took.Seconds())

	ev := audit.NewEvent(audit.KindScheduledRun, tenantID, string(ag.Type()), "")
	ev.TraceID = engine.TraceID(ctx)
	ev.Payload = map[string]any{"trigger": domain.TriggerScheduled}
	ev.Status = string(status)
	if res != nil {
		ev.Response = res.Output
	}
	ev.Error = errMsg
	ev.DurationMs = took.Milliseconds()
	s.auditor.Log(ev)
}

// ScheduleStatus: состояние одного расписания для admin API.
type ScheduleStatus struct {
	AgentType domain.AgentType `json:"agent_type"`
	Every     string           `json:"every"`
	LastRun   *time.Time       `json:"last_run,omitempty"`
	NextRun   *time.Time       `json:"next_run,omitempty"`
}

// Status: снимок цикла и расписаний.
type Status struct {
	LoopState
	Tenants   []string         `json:"tenants"`
	Schedules []ScheduleStatus `json:"schedules"`
}

// Status безопасно вызывать из других горутин.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{LoopState: s.state, Tenants: slices.Clone(s.opts.Tenants)}
	if st.Tenants == nil {
		st.Tenants = []string{}
	}
	for _, t := range domain.AllAgentTypes {
		every, ok := s.opts.Schedules[t]
		if !ok {
			continue
		}
		ss := ScheduleStatus{AgentType: t, Every: every.String()}
		if last, ok := s.lastRun[t]; ok {
			l, next := last.UTC(), last.Add(every).UTC()
			ss.LastRun, ss.NextRun = &l, &next
		}
		st.Schedules = append(st.Schedules, ss)
	}
	return st
}
