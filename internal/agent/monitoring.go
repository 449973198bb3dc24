package agent

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"go.uber.org/zap"
)

// MonitoringAPI: операции платформы для агента мониторинга.
type MonitoringAPI interface {
	GetWebsite(ctx context.Context, id string) (*domain.Website, error)
	ListWebsites(ctx context.Context, tenantID string) ([]domain.Website, error)
	RecordHealthCheck(ctx context.Context, websiteID string, hc domain.HealthCheck) error
	CreateIncident(ctx context.Context, inc domain.Incident) (*domain.Incident, error)
}

// Issue: проблема, найденная при проверке.
type Issue struct {
	Website  string          `json:"website"`
	Issue    string          `json:"issue"`
	Severity domain.Severity `json:"severity"`
}

type Monitoring struct {
	api      MonitoringAPI
	prober   *Prober
	analyzer Analyzer
	logger   *zap.Logger
}

func NewMonitoring(api MonitoringAPI, prober *Prober, analyzer Analyzer, logger *zap.Logger) *Monitoring {
	return &Monitoring{api: api, prober: prober, analyzer: analyzer, logger: logger.Named("monitoring")}
}

func (m *Monitoring) Type() domain.AgentType { return domain.AgentMonitoring }
func (m *Monitoring) Name() string           { return "Monitoring Agent" }

func (m *Monitoring) Execute(ctx context.Context, actx domain.AgentContext) (*domain.AgentResult, error) {
	if err := actx.Validate(); err != nil {
		return domain.Failure(err.Error()), nil
	}
	log := m.logger.With(zap.String("tenant_id", actx.TenantID))

	sites := m.websites(ctx, actx)
	if len(sites) == 0 {
		log.Info("no websites to monitor")
		return domain.Succeeded(map[string]any{"message": "No websites configured for monitoring"}, nil, nil), nil
	}

	results := make([]ProbeResult, 0, len(sites))
	var issues []Issue
	for _, site := range sites {
		log.Info("checking website", zap.String("website", site.Name), zap.String("url", site.URL))
		res := m.prober.Check(ctx, site)
		results = append(results, res)
		issues = append(issues, m.detect(site, res)...)

		if err := m.api.RecordHealthCheck(ctx, site.ID, res.HealthCheck()); err != nil {
			log.Warn("failed to store health check", zap.String("website_id", site.ID), zap.Error(err))
		}
	}

	for _, issue := range issues {
		m.openIncident(ctx, actx.TenantID, issue)
	}

	analysis := m.analyzer.Analyze(ctx, map[string]any{"health_checks": results},
		"website health monitoring",
		"Analyze these health check results for patterns, anomalies, and potential issues.")

	return domain.Succeeded(map[string]any{
		"websites_checked": len(sites),
		"issues_detected":  len(issues),
		"results":          results,
		"analysis":         analysis,
	}, []string{fmt.Sprintf("Checked %d websites", len(sites))}, analysis.Recommendations), nil
}

func (m *Monitoring) websites(ctx context.Context, actx domain.AgentContext) []domain.Website {
	if actx.WebsiteID != "" {
		site, err := m.api.GetWebsite(ctx, actx.WebsiteID)
		if err != nil {
			m.logger.Error("failed to get website", zap.String("website_id", actx.WebsiteID), zap.Error(err))
			return nil
		}
		return []domain.Website{*site}
	}
	sites, err := m.api.ListWebsites(ctx, actx.TenantID)
	if err != nil {
		m.logger.Error("failed to list websites", zap.String("tenant_id", actx.TenantID), zap.Error(err))
		return nil
	}
	return sites
}

// detect: только down, degraded и истекающий сертификат становятся инцидентами.
func (m *Monitoring) detect(site domain.Website, res ProbeResult) []Issue {
	var issues []Issue
	switch res.Status {
	case domain.HealthDown:
		issues = append(issues, Issue{Website: site.Name, Issue: "Website is down", Severity: domain.SeverityCritical})
	case domain.HealthDegraded:
		var ms int64
		if res.ResponseTime != nil {
			ms = *res.ResponseTime
		}
		issues = append(issues, Issue{Website: site.Name, Issue: fmt.Sprintf("High response time: %dms", ms), Severity: domain.SeverityHigh})
	}

	if days := res.SSLDaysUntilExpiry; days != nil && *days < m.prober.thresholds.SSLWarnDays {
		sev := domain.SeverityHigh
		if *days > 7 {
			sev = domain.SeverityMedium
		}
		issues = append(issues, Issue{Website: site.Name, Issue: fmt.Sprintf("SSL expires in %d days", *days), Severity: sev})
	}
	return issues
}

func (m *Monitoring) openIncident(ctx context.Context, tenantID string, issue Issue) {
	_, err := m.api.CreateIncident(ctx, domain.Incident{
		TenantID:    tenantID,
		Title:       fmt.Sprintf("%s: %s", issue.Website, issue.Issue),
		Description: fmt.Sprintf("The monitoring agent detected an issue with %s. %s", issue.Website, issue.Issue),
		Severity:    issue.Severity,
		Source:      "monitoring_agent",
		Metadata:    map[string]any{"website": issue.Website, "issue": issue.Issue, "severity": issue.Severity},
	})
	if err != nil {
		m.logger.Error("failed to create incident", zap.String("website", issue.Website), zap.Error(err))
		return
	}
	m.logger.Info("incident created", zap.String("website", issue.Website), zap.String("issue", issue.Issue))
}
