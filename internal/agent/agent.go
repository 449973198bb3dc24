// Package agent содержит четыре агента платформы и реестр тип -> экземпляр.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/llm"
	"github.com/xela07ax/spaceai-agentops/internal/platform"
)

// Agent: общий контракт. Отказы возвращаются в AgentResult;
// error зарезервирован для нарушений контракта.
type Agent interface {
	Type() domain.AgentType
	Name() string
	Execute(ctx context.Context, actx domain.AgentContext) (*domain.AgentResult, error)
}

// Analyzer: то, что агентам нужно от LLM.
type Analyzer interface {
	Analyze(ctx context.Context, data any, analysisType, extraContext string) domain.Insight
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Registry: фиксированное отображение типа агента на экземпляр.
type Registry struct {
	agents map[domain.AgentType]Agent
}

func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[domain.AgentType]Agent, len(agents))}
	for _, a := range agents {
		if _, dup := r.agents[a.Type()]; dup {
			return nil, fmt.Errorf("agent registry: duplicate agent type %q", a.Type())
		}
		r.agents[a.Type()] = a
	}
	return r, nil
}

func (r *Registry) Get(t domain.AgentType) (Agent, bool) {
	a, ok := r.agents[t]
	return a, ok
}

// Types: зарегистрированные типы в порядке domain.AllAgentTypes.
func (r *Registry) Types() []domain.AgentType {
	out := make([]domain.AgentType, 0, len(r.agents))
	for _, t := range domain.AllAgentTypes {
		if _, ok := r.agents[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

const msgIncidentNotFound = "Incident not found"

// loadIncident различает "нет такого инцидента" и сбой API.
func loadIncident(ctx context.Context, get func(context.Context, string) (*domain.Incident, error), id string) (*domain.Incident, *domain.AgentResult) {
	inc, err := get(ctx, id)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		return nil, domain.Failure(msgIncidentNotFound)
	case err != nil:
		return nil, domain.Failure(fmt.Sprintf("failed to load incident: %v", err))
	}
	return inc, nil
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
