package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"go.uber.org/zap"
)

func rcaFixture() *fakePlatform {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := newFakePlatform()
	api.incidents["inc-1"] = &domain.Incident{
		ID: "inc-1", Title: "Checkout 502", Description: "gateway errors", Severity: domain.SeverityHigh,
		Status: domain.IncidentOpen, CreatedAt: &created,
	}
	api.checks = []domain.HealthCheck{
		check("w1", domain.HealthDown, created.Add(-10*time.Minute)),
		check("w1", domain.HealthUp, created.Add(-50*time.Minute)),
	}
	api.deployments = []map[string]any{{"version": "v42"}}
	api.logs = []map[string]any{{"message": "upstream reset"}}
	api.metrics = map[string]any{"error_rate": 0.4}
	return api
}

func TestRCA_Execute(t *testing.T) {
	api := rcaFixture()
	an := &stubAnalyzer{answer: "```json\n" + `{
		"root_cause": "Bad deploy v42",
		"confidence": 85,
		"contributing_factors": ["no canary"],
		"timeline_summary": "deploy then errors",
		"recommendations": ["Roll back v42", "Add canary"],
		"evidence": ["error spike after deploy"]
	}` + "\n```"}

	res, err := NewRCA(api, an, zap.NewNop()).Execute(context.Background(),
		domain.AgentContext{TenantID: "t1", IncidentID: "inc-1", Trigger: domain.TriggerIncident})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "Bad deploy v42", res.Output["root_cause"])
	assert.EqualValues(t, 85, res.Output["confidence"])
	assert.Equal(t, []string{"no canary"}, res.Output["contributing_factors"])
	assert.Equal(t, []string{"Roll back v42", "Add canary"}, res.Recommendations)
	assert.Equal(t, []string{"Performed root cause analysis", "Updated incident with findings"}, res.ActionsTaken)

	// 1. Шкала отсортирована по времени, инцидент последний
	timeline, ok := res.Output["timeline"].([]TimelineEvent)
	require.True(t, ok)
	require.Len(t, timeline, 3)
	assert.Equal(t, "Health check: up", timeline[0].Event)
	assert.Equal(t, "Health check: down", timeline[1].Event)
	assert.Equal(t, "Incident created", timeline[2].Event)
	assert.Equal(t, "Checkout 502", timeline[2].Details)

	// 2. Окно проверок: час до инцидента
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), api.lastCheckQuery.From)

	// 3. Промпт
	require.Len(t, an.requests, 1)
	req := an.requests[0]
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Contains(t, req.System, "root_cause")
	assert.Contains(t, req.Prompt, "Title: Checkout 502")
	assert.Contains(t, req.Prompt, "Created: 2026-03-01T12:00:00Z")
	assert.Contains(t, req.Prompt, `"version": "v42"`)
	assert.Contains(t, req.Prompt, "upstream reset")
	assert.Contains(t, req.Prompt, "error_rate")

	// 4. Инцидент обновлен
	require.Len(t, api.updates["inc-1"], 1)
	upd := api.updates["inc-1"][0]
	assert.Equal(t, "Bad deploy v42", upd.RootCause)
	assert.Equal(t, domain.IncidentInvestigating, upd.Status)
	assert.Equal(t, "deploy then errors", upd.RCAAnalysis["timeline_summary"])
}

func TestRCA_Fallback(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{"invalid json", "the database is probably slow", nil},
		{"provider error", "", errors.New("timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := rcaFixture()
			an := &stubAnalyzer{answer: tt.answer, err: tt.err}

			res, err := NewRCA(api, an, zap.NewNop()).Execute(context.Background(), domain.AgentContext{TenantID: "t1", IncidentID: "inc-1"})
			require.NoError(t, err)
			require.True(t, res.Success)
			assert.Equal(t, "Unable to determine with high confidence", res.Output["root_cause"])
			assert.EqualValues(t, 30, res.Output["confidence"])
			assert.Equal(t, []string{"Manual investigation recommended"}, res.Recommendations)
			require.Len(t, api.updates["inc-1"], 1)
			assert.Equal(t, domain.IncidentInvestigating, api.updates["inc-1"][0].Status)
		})
	}
}

func TestRCA_Failures(t *testing.T) {
	a := NewRCA(rcaFixture(), &stubAnalyzer{}, zap.NewNop())

	res, err := a.Execute(context.Background(), domain.AgentContext{TenantID: "t1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No incident_id provided for RCA", res.Error)

	res, err = a.Execute(context.Background(), domain.AgentContext{TenantID: "t1", IncidentID: "missing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Incident not found", res.Error)
}

func TestTail(t *testing.T) {
	assert.Equal(t, []int{3, 4}, tail([]int{1, 2, 3, 4}, 2))
	assert.Equal(t, []int{1}, tail([]int{1}, 5))
}
