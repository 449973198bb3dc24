package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"go.uber.org/zap"
)

type stubPlanner struct {
	actions []domain.RemediationAction
	seen    []string
}

func (s *stubPlanner) Plan(_ context.Context, inc domain.Incident) []domain.RemediationAction {
	s.seen = append(s.seen, inc.ID)
	return s.actions
}

type stubExecutor struct {
	report domain.RemediationReport
	runs   int
	tenant string
}

func (s *stubExecutor) Run(_ context.Context, tenantID string, _ domain.Incident, _ []domain.RemediationAction) domain.RemediationReport {
	s.runs++
	s.tenant = tenantID
	return s.report
}

func remediationFixture() *fakePlatform {
	api := newFakePlatform()
	api.incidents["inc-1"] = &domain.Incident{ID: "inc-1", Title: "API latency", Severity: domain.SeverityHigh}
	return api
}

func TestRemediation_Execute(t *testing.T) {
	planner := &stubPlanner{actions: []domain.RemediationAction{
		{Type: domain.ActionScaleUp, Target: "api"},
		{Type: domain.ActionRestartService, Target: "api"},
	}}
	exec := &stubExecutor{report: domain.RemediationReport{
		Executed:         []domain.ExecutedAction{{Action: domain.ActionScaleUp, Target: "api", Result: domain.Done("scaled")}},
		Failed:           []domain.FailedAction{},
		PendingApproval:  []domain.PendingAction{{Action: domain.ActionRestartService, Target: "api"}},
		ApprovalRequests: []domain.ApprovalRequest{{ID: "rem-1"}},
	}}

	res, err := NewRemediation(remediationFixture(), planner, exec, zap.NewNop()).Execute(context.Background(),
		domain.AgentContext{TenantID: "t1", IncidentID: "inc-1"})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, []string{"inc-1"}, planner.seen)
	assert.Equal(t, 1, exec.runs)
	assert.Equal(t, "t1", exec.tenant)
	assert.Equal(t, "inc-1", res.Output["incident_id"])
	assert.Len(t, res.Output["executed_actions"], 1)
	assert.Len(t, res.Output["pending_approval"], 1)
	assert.Equal(t, []string{"Executed 1 auto-approved actions", "Created 1 approval requests"}, res.ActionsTaken)
}

func TestRemediation_EmptyPlan(t *testing.T) {
	exec := &stubExecutor{}
	res, err := NewRemediation(remediationFixture(), &stubPlanner{}, exec, zap.NewNop()).Execute(context.Background(),
		domain.AgentContext{TenantID: "t1", IncidentID: "inc-1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "No automatic remediation actions available", res.Output["message"])
	assert.Equal(t, []string{"Manual intervention required"}, res.Recommendations)
	assert.Zero(t, exec.runs)
}

func TestRemediation_Failures(t *testing.T) {
	a := NewRemediation(remediationFixture(), &stubPlanner{}, &stubExecutor{}, zap.NewNop())

	res, err := a.Execute(context.Background(), domain.AgentContext{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "No incident_id provided for remediation", res.Error)

	res, err = a.Execute(context.Background(), domain.AgentContext{TenantID: "t1", IncidentID: "nope"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Incident not found", res.Error)
}
