package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// GetIncident: GET /incidents/{id}. Отсутствующий инцидент: ErrNotFound.
func (c *Client) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	var resp struct {
		Incident *domain.Incident `json:"incident"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Incident == nil {
		return nil, ErrNotFound
	}
	return resp.Incident, nil
}

// IncidentFilter: параметры GET /incidents.
type IncidentFilter struct {
	TenantID  string
	Status    domain.IncidentStatus
	OlderThan string // например "30m"
}

func (c *Client) ListIncidents(ctx context.Context, f IncidentFilter) ([]domain.Incident, error) {
	q := url.Values{"tenantId": {f.TenantID}}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.OlderThan != "" {
		q.Set("olderThan", f.OlderThan)
	}
	var resp struct {
		Incidents []domain.Incident `json:"incidents"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Incidents, nil
}

// CreateIncident: POST /incidents. Ответ может прийти в конверте {"incident": ...}.
func (c *Client) CreateIncident(ctx context.Context, inc domain.Incident) (*domain.Incident, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/incidents", nil, inc, &raw); err != nil {
		return nil, err
	}
	created := inc
	if len(raw) > 0 {
		if err := unwrapEnvelope(raw, "incident", &created); err != nil {
			return nil, fmt.Errorf("platform: decode created incident: %w", err)
		}
	}
	return &created, nil
}

// UpdateIncident: PATCH /incidents/{id}.
func (c *Client) UpdateIncident(ctx context.Context, id string, upd domain.IncidentUpdate) error {
	return c.do(ctx, http.MethodPatch, "/incidents/"+url.PathEscape(id), nil, upd, nil)
}
