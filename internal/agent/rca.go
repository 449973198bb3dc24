package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/llm"
	"github.com/xela07ax/spaceai-agentops/internal/platform"
	"go.uber.org/zap"
)

const (
	rcaTemperature      = 0.2
	timelineWindow      = time.Hour
	deploymentWindow    = 24 * time.Hour
	errorLogLimit       = 50
	promptTimelineItems = 20
	promptDeployments   = 5
	promptLogs          = 10
)

// RCAAPI: операции платформы для анализа первопричины.
type RCAAPI interface {
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)
	ListHealthChecks(ctx context.Context, f platform.HealthCheckFilter) ([]domain.HealthCheck, error)
	ListDeployments(ctx context.Context, tenantID string, from time.Time) ([]map[string]any, error)
	ListLogs(ctx context.Context, tenantID, level string, limit int) ([]map[string]any, error)
	GetMetrics(ctx context.Context, tenantID, period string) (any, error)
	UpdateIncident(ctx context.Context, id string, upd domain.IncidentUpdate) error
}

// TimelineEvent: событие на шкале вокруг инцидента.
type TimelineEvent struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Type    string    `json:"type"`
	Details any       `json:"details"`
}

type RCA struct {
	api      RCAAPI
	analyzer Analyzer
	now      func() time.Time
	logger   *zap.Logger
}

func NewRCA(api RCAAPI, analyzer Analyzer, logger *zap.Logger) *RCA {
	return &RCA{api: api, analyzer: analyzer, now: time.Now, logger: logger.Named("rca")}
}

func (a *RCA) Type() domain.AgentType { return domain.AgentRCA }
func (a *RCA) Name() string           { return "Root Cause Analysis Agent" }

func (a *RCA) Execute(ctx context.Context, actx domain.AgentContext) (*domain.AgentResult, error) {
	if actx.IncidentID == "" {
		return domain.Failure("No incident_id provided for RCA"), nil
	}
	if err := actx.Validate(); err != nil {
		return domain.Failure(err.Error()), nil
	}
	log := a.logger.With(zap.String("tenant_id", actx.TenantID), zap.String("incident_id", actx.IncidentID))
	log.Info("starting root cause analysis")

	// 1. Инцидент
	incident, failure := loadIncident(ctx, a.api.GetIncident, actx.IncidentID)
	if failure != nil {
		return failure, nil
	}
	at := incident.CreatedOr(a.now().UTC())

	// 2. Контекст: шкала, деплои, логи, метрики. Сбои источников не фатальны.
	timeline := a.timeline(ctx, actx.TenantID, *incident, at)

	deployments, err := a.api.ListDeployments(ctx, actx.TenantID, at.Add(-deploymentWindow))
	if err != nil {
		log.Warn("failed to get deployments", zap.Error(err))
	}
	logs, err := a.api.ListLogs(ctx, actx.TenantID, "error", errorLogLimit)
	if err != nil {
		log.Warn("failed to get logs", zap.Error(err))
	}
	metrics, err := a.api.GetMetrics(ctx, actx.TenantID, "1h")
	if err != nil {
		log.Warn("failed to get metrics", zap.Error(err))
	}
	if metrics == nil {
		metrics = map[string]any{}
	}

	// 3. Анализ
	findings := a.analyze(ctx, *incident, at, timeline, deployments, logs, metrics)
	rootCause := llmString(findings["root_cause"])

	// 4. Инцидент переходит в investigating
	if err := a.api.UpdateIncident(ctx, actx.IncidentID, domain.IncidentUpdate{
		RootCause:   rootCause,
		RCAAnalysis: findings,
		Status:      domain.IncidentInvestigating,
	}); err != nil {
		log.Warn("failed to update incident", zap.Error(err))
	}

	recommendations := llm.StringList(findings["recommendations"])
	return domain.Succeeded(map[string]any{
		"incident_id":          actx.IncidentID,
		"root_cause":           rootCause,
		"confidence":           findings["confidence"],
		"contributing_factors": llm.StringList(findings["contributing_factors"]),
		"timeline":             timeline,
		"recommendations":      recommendations,
	}, []string{"Performed root cause analysis", "Updated incident with findings"}, recommendations), nil
}

func (a *RCA) timeline(ctx context.Context, tenantID string, incident domain.Incident, at time.Time) []TimelineEvent {
	events := []TimelineEvent{{Time: at, Event: "Incident created", Type: "incident", Details: incident.Title}}

	checks, err := a.api.ListHealthChecks(ctx, platform.HealthCheckFilter{TenantID: tenantID, From: at.Add(-timelineWindow)})
	if err != nil {
		a.logger.Warn("failed to get health checks", zap.String("incident_id", incident.ID), zap.Error(err))
	}
	for _, hc := range checks {
		events = append(events, TimelineEvent{
			Time:    checkedAt(hc),
			Event:   "Health check: " + hc.Status,
			Type:    "health_check",
			Details: hc,
		})
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Time.Before(events[j].Time) })
	return events
}

func rcaFallback() map[string]any {
	return map[string]any{
		"root_cause":           "Unable to determine with high confidence",
		"confidence":           30,
		"contributing_factors": []string{},
		"recommendations":      []string{"Manual investigation recommended"},
	}
}

const rcaSystemPrompt = `You are an expert Site Reliability Engineer performing root cause analysis.
Analyze the provided incident data and determine:
1. The most likely root cause
2. Contributing factors
3. Timeline of events leading to the incident
4. Recommendations to prevent recurrence

Respond in JSON format with:
- root_cause: Brief description of the root cause
- confidence: 0-100 confidence level
- contributing_factors: List of factors that contributed
- timeline_summary: Brief summary of what happened
- recommendations: List of actionable recommendations
- evidence: Key evidence supporting your conclusion`

func (a *RCA) analyze(ctx context.Context, incident domain.Incident, at time.Time, timeline []TimelineEvent,
	deployments, logs []map[string]any, metrics any) map[string]any {
	prompt := fmt.Sprintf(`Analyze this incident:

INCIDENT:
Title: %s
Description: %s
Severity: %s
Created: %s

TIMELINE:
%s

RECENT DEPLOYMENTS:
%s

ERROR LOGS:
%s

METRICS:
%s

Determine the root cause and provide your analysis in JSON format.`,
		incident.Title, incident.Description, incident.Severity, isoTime(at),
		indentJSON(tail(timeline, promptTimelineItems)),
		indentJSON(tail(orEmpty(deployments), promptDeployments)),
		indentJSON(tail(orEmpty(logs), promptLogs)),
		indentJSON(metrics),
	)

	raw, err := a.analyzer.Complete(ctx, llm.Request{System: rcaSystemPrompt, Prompt: prompt, Temperature: rcaTemperature})
	if err != nil {
		a.logger.Warn("rca request failed, using fallback", zap.String("incident_id", incident.ID), zap.Error(err))
		return rcaFallback()
	}

	var findings map[string]any
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &findings); err != nil || findings == nil {
		a.logger.Warn("rca answer is not a json object, using fallback", zap.String("incident_id", incident.ID))
		return rcaFallback()
	}
	return findings
}

func tail[T any](items []T, n int) []T {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

func orEmpty(items []map[string]any) []map[string]any {
	if items == nil {
		return []map[string]any{}
	}
	return items
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func llmString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
