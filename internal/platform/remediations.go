package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// CreateRemediation: POST /remediations (запрос на подтверждение, status=pending).
func (c *Client) CreateRemediation(ctx context.Context, req domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/remediations", nil, req, &raw); err != nil {
		return nil, err
	}
	created := req
	if len(raw) > 0 {
		if err := unwrapEnvelope(raw, "remediation", &created); err != nil {
			return nil, fmt.Errorf("platform: decode created remediation: %w", err)
		}
	}
	return &created, nil
}

func (c *Client) GetRemediation(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var resp struct {
		Remediation *domain.ApprovalRequest `json:"remediation"`
	}
	if err := c.do(ctx, http.MethodGet, "/remediations/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Remediation == nil {
		return nil, ErrNotFound
	}
	return resp.Remediation, nil
}

func (c *Client) ListRemediations(ctx context.Context, status domain.ApprovalStatus) ([]domain.ApprovalRequest, error) {
	var resp struct {
		Remediations []domain.ApprovalRequest `json:"remediations"`
	}
	q := url.Values{"status": {string(status)}}
	if err := c.do(ctx, http.MethodGet, "/remediations", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Remediations, nil
}

// RemediationUpdate: тело PATCH /remediations/{id}.
type RemediationUpdate struct {
	Status  domain.ApprovalStatus `json:"status"`
	Result  string                `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
	Details map[string]any        `json:"details,omitempty"`
}

func (c *Client) UpdateRemediation(ctx context.Context, id string, upd RemediationUpdate) error {
	return c.do(ctx, http.MethodPatch, "/remediations/"+url.PathEscape(id), nil, upd, nil)
}
