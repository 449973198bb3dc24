package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/platform"
	"go.uber.org/zap"
)

const (
	failureThreshold   = 3
	healthCheckWindow  = 100
	failureSampleSize  = 10
	staleInvestigation = "30m"
	incidentSource     = "incident_agent"
)

// IncidentAPI: операции платформы для агента инцидентов.
type IncidentAPI interface {
	ListHealthChecks(ctx context.Context, f platform.HealthCheckFilter) ([]domain.HealthCheck, error)
	GetMetrics(ctx context.Context, tenantID, period string) (any, error)
	ListIncidents(ctx context.Context, f platform.IncidentFilter) ([]domain.Incident, error)
	CreateIncident(ctx context.Context, inc domain.Incident) (*domain.Incident, error)
	UpdateIncident(ctx context.Context, id string, upd domain.IncidentUpdate) error
}

// Incidents ищет повторяющиеся сбои и аномалии метрик, открывает инциденты,
// обновляет открытые и закрывает зависшие, если сайт снова отвечает.
type Incidents struct {
	api      IncidentAPI
	analyzer Analyzer
	now      func() time.Time
	logger   *zap.Logger
}

func NewIncidents(api IncidentAPI, analyzer Analyzer, logger *zap.Logger) *Incidents {
	return &Incidents{api: api, analyzer: analyzer, now: time.Now, logger: logger.Named("incident")}
}

func (a *Incidents) Type() domain.AgentType { return domain.AgentIncident }
func (a *Incidents) Name() string           { return "Incident Detection Agent" }

// candidate: будущий инцидент; websiteID пуст для аномалий метрик.
type candidate struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    domain.Severity `json:"severity"`
	WebsiteID   string          `json:"website_id,omitempty"`
	Failures    int             `json:"failures,omitempty"`
}

type incidentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (a *Incidents) Execute(ctx context.Context, actx domain.AgentContext) (*domain.AgentResult, error) {
	if err := actx.Validate(); err != nil {
		return domain.Failure(err.Error()), nil
	}
	log := a.logger.With(zap.String("tenant_id", actx.TenantID))

	checks, err := a.api.ListHealthChecks(ctx, platform.HealthCheckFilter{TenantID: actx.TenantID, Limit: healthCheckWindow})
	if err != nil {
		log.Warn("failed to load health checks", zap.Error(err))
	}
	byWebsite := groupByWebsite(checks)

	// 1. Кандидаты: повторяющиеся сбои и аномалии метрик
	candidates := a.failureCandidates(ctx, byWebsite)
	candidates = append(candidates, a.anomalyCandidates(ctx, actx.TenantID)...)
	candidates = dedupeByTitle(candidates)

	// 2. Открытые инциденты: совпадение по заголовку не создает дубль
	open, err := a.api.ListIncidents(ctx, platform.IncidentFilter{TenantID: actx.TenantID, Status: domain.IncidentOpen})
	if err != nil {
		log.Warn("failed to list open incidents", zap.Error(err))
	}
	openByTitle := make(map[string]domain.Incident, len(open))
	for _, inc := range open {
		openByTitle[inc.Title] = inc
	}

	created := []incidentRef{}
	updated := []incidentRef{}
	for _, c := range candidates {
		if existing, ok := openByTitle[c.Title]; ok {
			if a.touch(ctx, existing, c) {
				updated = append(updated, incidentRef{ID: existing.ID, Title: existing.Title})
			}
			continue
		}
		inc, err := a.api.CreateIncident(ctx, domain.Incident{
			TenantID:    actx.TenantID,
			Title:       c.Title,
			Description: c.Description,
			Severity:    c.Severity,
			Source:      incidentSource,
			Metadata:    candidateMetadata(c),
		})
		if err != nil {
			log.Error("failed to create incident", zap.String("title", c.Title), zap.Error(err))
			continue
		}
		created = append(created, incidentRef{ID: inc.ID, Title: inc.Title})
	}

	// 3. Зависшие в investigating инциденты по сайтам, которые снова up
	resolved := a.resolveRecovered(ctx, actx.TenantID, byWebsite)

	actions := []string{}
	if len(created) > 0 {
		actions = append(actions, fmt.Sprintf("Created %d incidents", len(created)))
	}
	if len(updated) > 0 {
		actions = append(actions, fmt.Sprintf("Updated %d incidents", len(updated)))
	}
	if len(resolved) > 0 {
		actions = append(actions, fmt.Sprintf("Auto-resolved %d incidents", len(resolved)))
	}

	return domain.Succeeded(map[string]any{
		"incidents_created":  len(created),
		"incidents_updated":  len(updated),
		"incidents_resolved": len(resolved),
		"details": map[string]any{
			"created":  created,
			"updated":  updated,
			"resolved": resolved,
		},
	}, actions, nil), nil
}

func groupByWebsite(checks []domain.HealthCheck) map[string][]domain.HealthCheck {
	out := make(map[string][]domain.HealthCheck)
	for _, hc := range checks {
		if hc.WebsiteID == "" {
			continue
		}
		out[hc.WebsiteID] = append(out[hc.WebsiteID], hc)
	}
	return out
}

func (a *Incidents) failureCandidates(ctx context.Context, byWebsite map[string][]domain.HealthCheck) []candidate {
	var out []candidate
	for _, websiteID := range sortedKeys(byWebsite) {
		var failures []domain.HealthCheck
		for _, hc := range byWebsite[websiteID] {
			if hc.IsFailure() {
				failures = append(failures, hc)
			}
		}
		if len(failures) < failureThreshold {
			continue
		}

		sample := failures
		if len(sample) > failureSampleSize {
			sample = sample[len(sample)-failureSampleSize:]
		}
		insight := a.analyzer.Analyze(ctx, map[string]any{"failures": sample}, "incident detection",
			fmt.Sprintf("Website has %d failures in recent checks.", len(failures)))

		sev := insight.Severity
		if sev == "" {
			sev = domain.SeverityHigh
		}
		out = append(out, candidate{
			Title:       failureTitle(websiteID),
			Description: insight.Summary,
			Severity:    sev,
			WebsiteID:   websiteID,
			Failures:    len(failures),
		})
	}
	return out
}

func (a *Incidents) anomalyCandidates(ctx context.Context, tenantID string) []candidate {
	metrics, err := a.api.GetMetrics(ctx, tenantID, "1h")
	if err != nil {
		a.logger.Warn("failed to load metrics", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	}
	if metrics == nil {
		return nil
	}

	insight := a.analyzer.Analyze(ctx, metrics, "anomaly detection in infrastructure metrics",
		"Look for unusual patterns, spikes, or degradation in these metrics.")
	if insight.Severity != domain.SeverityCritical && insight.Severity != domain.SeverityHigh {
		return nil
	}

	out := make([]candidate, 0, len(insight.Issues))
	for _, issue := range insight.Issues {
		out = append(out, candidate{
			Title:       issue,
			Description: "Anomaly detected: " + issue,
			Severity:    insight.Severity,
		})
	}
	return out
}

// failureTitle: заголовок уникален для сайта, иначе дедупликация склеит разные сайты.
func failureTitle(websiteID string) string {
	return fmt.Sprintf("Website %s experiencing repeated failures", websiteID)
}

func dedupeByTitle(in []candidate) []candidate {
	seen := make(map[string]bool, len(in))
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		if seen[c.Title] {
			continue
		}
		seen[c.Title] = true
		out = append(out, c)
	}
	return out
}

func candidateMetadata(c candidate) map[string]any {
	md := map[string]any{"detectedBy": incidentSource}
	if c.WebsiteID != "" {
		md["websiteId"] = c.WebsiteID
		md["failures"] = c.Failures
	}
	return md
}

// touch отмечает в открытом инциденте, что проблема все еще наблюдается.
func (a *Incidents) touch(ctx context.Context, inc domain.Incident, c candidate) bool {
	md := make(map[string]any, len(inc.Metadata)+2)
	for k, v := range inc.Metadata {
		md[k] = v
	}
	md["lastSeenAt"] = isoTime(a.now())
	if c.Failures > 0 {
		md["failures"] = c.Failures
	}
	if err := a.api.UpdateIncident(ctx, inc.ID, domain.IncidentUpdate{Metadata: md}); err != nil {
		a.logger.Warn("failed to update incident", zap.String("incident_id", inc.ID), zap.Error(err))
		return false
	}
	return true
}

// resolveRecovered закрывает инциденты investigating старше 30 минут,
// если последняя проверка их сайта снова up.
func (a *Incidents) resolveRecovered(ctx context.Context, tenantID string, byWebsite map[string][]domain.HealthCheck) []incidentRef {
	stale, err := a.api.ListIncidents(ctx, platform.IncidentFilter{
		TenantID: tenantID, Status: domain.IncidentInvestigating, OlderThan: staleInvestigation,
	})
	if err != nil {
		a.logger.Warn("failed to list investigating incidents", zap.Error(err))
		return nil
	}

	resolved := []incidentRef{}
	for _, inc := range stale {
		websiteID, _ := inc.Metadata["websiteId"].(string)
		if websiteID == "" || !recovered(byWebsite[websiteID]) {
			continue
		}
		if err := a.api.UpdateIncident(ctx, inc.ID, domain.IncidentUpdate{Status: domain.IncidentResolved}); err != nil {
			a.logger.Warn("failed to resolve incident", zap.String("incident_id", inc.ID), zap.Error(err))
			continue
		}
		resolved = append(resolved, incidentRef{ID: inc.ID, Title: inc.Title})
	}
	return resolved
}

// recovered: самая свежая проверка сайта в статусе up.
func recovered(checks []domain.HealthCheck) bool {
	var latest *domain.HealthCheck
	for i := range checks {
		hc := &checks[i]
		if latest == nil || checkedAt(*hc).After(checkedAt(*latest)) {
			latest = hc
		}
	}
	return latest != nil && latest.Status == domain.HealthUp
}

func checkedAt(hc domain.HealthCheck) time.Time {
	if hc.CheckedAt == nil {
		return time.Time{}
	}
	return *hc.CheckedAt
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
