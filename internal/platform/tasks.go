package platform

import (
	"context"
	"net/http"
	"net/url"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// ListPendingTasks: GET /agent-tasks?status=PENDING.
func (c *Client) ListPendingTasks(ctx context.Context) ([]domain.AgentTask, error) {
	var resp struct {
		Tasks []domain.AgentTask `json:"tasks"`
	}
	q := url.Values{"status": {string(domain.TaskPending)}}
	if err := c.do(ctx, http.MethodGet, "/agent-tasks", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// UpdateTask: PATCH /agent-tasks/{id}.
func (c *Client) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	return c.do(ctx, http.MethodPatch, "/agent-tasks/"+url.PathEscape(id), nil, upd, nil)
}
