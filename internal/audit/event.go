package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind: чем было событие.
type Kind string

const (
	KindTask         Kind = "task"          // выполнение задачи из очереди
	KindScheduledRun Kind = "scheduled_run" // плановый запуск без записи задачи
	KindAction       Kind = "action"        // корректирующее действие
	KindApproval     Kind = "approval"      // решение оператора по действию
)

type Event struct {
	ID       string `json:"id"`
	TraceID  string `json:"trace_id"`
	TenantID string `json:"tenant_id"`
	Kind     Kind   `json:"kind"`
	Subject  string `json:"subject"` // тип агента или тип действия
	Target   string `json:"target"`  // id задачи, ресурс, id remediation

	Payload map[string]any `json:"payload"`
	Mode    string         `json:"mode"` // LIVE или SANDBOX

	Status     string    `json:"status"` // COMPLETED, FAILED, executed, rejected...
	Response   any       `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent заполняет id и время.
func NewEvent(kind Kind, tenantID, subject, target string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		TenantID:  tenantID,
		Subject:   subject,
		Target:    target,
		Timestamp: time.Now().UTC(),
	}
}
