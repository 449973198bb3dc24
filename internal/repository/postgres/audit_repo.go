package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/spaceai-agentops/internal/audit"
)

const auditTable = "agent_audit_events"

var auditColumns = []string{
	"id", "trace_id", "tenant_id", "kind", "subject", "target",
	"payload", "mode", "status", "response", "duration_ms", "error", "created_at",
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS agent_audit_events (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	target      TEXT NOT NULL DEFAULT '',
	payload     JSONB,
	mode        TEXT NOT NULL DEFAULT 'LIVE',
	status      TEXT NOT NULL DEFAULT '',
	response    JSONB,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_audit_events_tenant_idx ON agent_audit_events (tenant_id, created_at DESC);
`

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// EnsureSchema создает таблицу журнала, если ее нет.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

// WriteBatch пишет пачку событий одним COPY.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows, err := auditRows(events)
	if err != nil {
		return err
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{auditTable}, auditColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy audit events: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("copy audit events: wrote %d of %d", n, len(events))
	}
	return nil
}

func auditRows(events []audit.Event) ([][]any, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		payload, err := jsonOrNil(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload of %s: %w", e.ID, err)
		}
		resp, err := jsonOrNil(e.Response)
		if err != nil {
			return nil, fmt.Errorf("encode response of %s: %w", e.ID, err)
		}
		mode := e.Mode
		if mode == "" {
			mode = "LIVE"
		}
		rows = append(rows, []any{
			e.ID, e.TraceID, e.TenantID, string(e.Kind), e.Subject, e.Target,
			payload, mode, e.Status, resp, e.DurationMs, e.Error, e.Timestamp,
		})
	}
	return rows, nil
}

func jsonOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
