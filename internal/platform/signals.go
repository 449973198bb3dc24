package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// HealthCheckFilter: параметры GET /health-checks.
type HealthCheckFilter struct {
	TenantID string
	Limit    int
	From     time.Time
}

func (c *Client) ListHealthChecks(ctx context.Context, f HealthCheckFilter) ([]domain.HealthCheck, error) {
	q := url.Values{"tenantId": {f.TenantID}}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if !f.From.IsZero() {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	var resp struct {
		HealthChecks []domain.HealthCheck `json:"healthChecks"`
	}
	if err := c.do(ctx, http.MethodGet, "/health-checks", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.HealthChecks, nil
}

// GetMetrics: GET /metrics. Форма метрик не контрактуется: список или объект.
func (c *Client) GetMetrics(ctx context.Context, tenantID, period string) (any, error) {
	q := url.Values{"tenantId": {tenantID}, "period": {period}}
	var resp struct {
		Metrics json.RawMessage `json:"metrics"`
	}
	if err := c.do(ctx, http.MethodGet, "/metrics", q, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Metrics) == 0 || string(resp.Metrics) == "null" {
		return nil, nil
	}
	var metrics any
	if err := json.Unmarshal(resp.Metrics, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

func (c *Client) ListDeployments(ctx context.Context, tenantID string, from time.Time) ([]map[string]any, error) {
	q := url.Values{"tenantId": {tenantID}, "from": {from.UTC().Format(time.RFC3339)}}
	var resp struct {
		Deployments []map[string]any `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/deployments", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

func (c *Client) ListLogs(ctx context.Context, tenantID, level string, limit int) ([]map[string]any, error) {
	q := url.Values{"tenantId": {tenantID}, "level": {level}, "limit": {strconv.Itoa(limit)}}
	var resp struct {
		Logs []map[string]any `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, "/logs", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func (c *Client) GetWebsite(ctx context.Context, id string) (*domain.Website, error) {
	var resp struct {
		Website *domain.Website `json:"website"`
	}
	if err := c.do(ctx, http.MethodGet, "/websites/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Website == nil {
		return nil, ErrNotFound
	}
	return resp.Website, nil
}

func (c *Client) ListWebsites(ctx context.Context, tenantID string) ([]domain.Website, error) {
	var resp struct {
		Websites []domain.Website `json:"websites"`
	}
	q := url.Values{"tenantId": {tenantID}}
	if err := c.do(ctx, http.MethodGet, "/websites", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Websites, nil
}

// RecordHealthCheck: POST /websites/{id}/health-checks.
func (c *Client) RecordHealthCheck(ctx context.Context, websiteID string, hc domain.HealthCheck) error {
	return c.do(ctx, http.MethodPost, "/websites/"+url.PathEscape(websiteID)+"/health-checks", nil, hc, nil)
}
