package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/llm"
	"github.com/xela07ax/spaceai-agentops/internal/platform"
	"go.uber.org/zap"
)

// fakePlatform реализует API всех агентов в памяти.
type fakePlatform struct {
	mu sync.Mutex

	websites    []domain.Website
	checks      []domain.HealthCheck
	metrics     any
	deployments []map[string]any
	logs        []map[string]any
	incidents   map[string]*domain.Incident

	recorded       []domain.HealthCheck
	created        []domain.Incident
	updates        map[string][]domain.IncidentUpdate
	lastCheckQuery platform.HealthCheckFilter

	metricsErr error
	listErr    error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{incidents: map[string]*domain.Incident{}, updates: map[string][]domain.IncidentUpdate{}}
}

func (f *fakePlatform) GetWebsite(_ context.Context, id string) (*domain.Website, error) {
	for _, w := range f.websites {
		if w.ID == id {
			return &w, nil
		}
	}
	return nil, platform.ErrNotFound
}

func (f *fakePlatform) ListWebsites(_ context.Context, _ string) ([]domain.Website, error) {
	return f.websites, f.listErr
}

func (f *fakePlatform) RecordHealthCheck(_ context.Context, websiteID string, hc domain.HealthCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hc.WebsiteID = websiteID
	f.recorded = append(f.recorded, hc)
	return nil
}

func (f *fakePlatform) ListHealthChecks(_ context.Context, q platform.HealthCheckFilter) ([]domain.HealthCheck, error) {
	f.lastCheckQuery = q
	return f.checks, nil
}

func (f *fakePlatform) GetMetrics(_ context.Context, _, _ string) (any, error) {
	return f.metrics, f.metricsErr
}

func (f *fakePlatform) ListDeployments(_ context.Context, _ string, _ time.Time) ([]map[string]any, error) {
	return f.deployments, nil
}

func (f *fakePlatform) ListLogs(_ context.Context, _, _ string, _ int) ([]map[string]any, error) {
	return f.logs, nil
}

func (f *fakePlatform) GetIncident(_ context.Context, id string) (*domain.Incident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, platform.ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (f *fakePlatform) ListIncidents(_ context.Context, q platform.IncidentFilter) ([]domain.Incident, error) {
	var out []domain.Incident
	for _, id := range sortedKeys(f.incidents) {
		if inc := f.incidents[id]; inc.Status == q.Status {
			out = append(out, *inc)
		}
	}
	return out, nil
}

func (f *fakePlatform) CreateIncident(_ context.Context, inc domain.Incident) (*domain.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc.ID = "inc-new-" + string(rune('a'+len(f.created)))
	f.created = append(f.created, inc)
	return &inc, nil
}

func (f *fakePlatform) UpdateIncident(_ context.Context, id string, upd domain.IncidentUpdate) error {
	f.updates[id] = append(f.updates[id], upd)
	return nil
}

// stubAnalyzer отдает фиксированный Insight и ответ Complete.
type stubAnalyzer struct {
	insight  domain.Insight
	answer   string
	err      error
	analyzed []string
	requests []llm.Request
}

func (s *stubAnalyzer) Analyze(_ context.Context, _ any, analysisType, _ string) domain.Insight {
	s.analyzed = append(s.analyzed, analysisType)
	return s.insight
}

func (s *stubAnalyzer) Complete(_ context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	return s.answer, s.err
}

func TestRegistry(t *testing.T) {
	api := newFakePlatform()
	an := &stubAnalyzer{}
	log := zap.NewNop()

	reg, err := NewRegistry(
		NewRemediation(api, nil, nil, log),
		NewMonitoring(api, NewProber(DefaultThresholds()), an, log),
		NewRCA(api, an, log),
		NewIncidents(api, an, log),
	)
	require.NoError(t, err)
	assert.Equal(t, domain.AllAgentTypes, reg.Types())

	a, ok := reg.Get(domain.AgentRCA)
	require.True(t, ok)
	assert.Equal(t, "Root Cause Analysis Agent", a.Name())

	_, ok = reg.Get(domain.AgentType("backup"))
	assert.False(t, ok)

	_, err = NewRegistry(NewRCA(api, an, log), NewRCA(api, an, log))
	assert.Error(t, err)
}

func TestAgents_RequireTenant(t *testing.T) {
	api := newFakePlatform()
	an := &stubAnalyzer{}
	log := zap.NewNop()
	agents := []Agent{
		NewMonitoring(api, NewProber(DefaultThresholds()), an, log),
		NewIncidents(api, an, log),
		NewRCA(api, an, log),
		NewRemediation(api, nil, nil, log),
	}
	for _, a := range agents {
		t.Run(string(a.Type()), func(t *testing.T) {
			res, err := a.Execute(context.Background(), domain.AgentContext{IncidentID: "inc-1"})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Error)
		})
	}
}
