package domain

import (
	"errors"
	"time"
)

// TaskStatus: состояние записи agent-task на стороне платформы.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal: после терминального статуса задача больше не трогается.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// CanTransitionTo проверяет правила конечного автомата:
// PENDING -> RUNNING ровно один раз, RUNNING -> COMPLETED|FAILED ровно один раз.
// CANCELLED выставляет только платформа.
func (s TaskStatus) CanTransitionTo(next TaskStatus) error {
	switch s {
	case TaskPending:
		if next == TaskRunning || next == TaskCancelled {
			return nil
		}
	case TaskRunning:
		if next == TaskCompleted || next == TaskFailed {
			return nil
		}
	}
	return ErrInvalidTransition
}

// AgentTask: запись очереди, которой владеет API платформы.
type AgentTask struct {
	ID         string         `json:"id"`
	AgentType  string         `json:"agentType"`
	TenantID   string         `json:"tenantId"`
	WebsiteID  string         `json:"websiteId,omitempty"`
	IncidentID string         `json:"incidentId,omitempty"`
	Trigger    string         `json:"trigger,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Status     TaskStatus     `json:"status"`
	CreatedAt  *time.Time     `json:"createdAt,omitempty"`
}

// Context строит AgentContext из задачи. Пустой или неизвестный trigger считается scheduled.
func (t AgentTask) Context() AgentContext {
	return AgentContext{
		TenantID:   t.TenantID,
		WebsiteID:  t.WebsiteID,
		IncidentID: t.IncidentID,
		Trigger:    ParseTrigger(t.Trigger, TriggerScheduled),
		Input:      t.Input,
	}
}

// TaskUpdate: тело PATCH /agent-tasks/{id}.
type TaskUpdate struct {
	Status       TaskStatus     `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// Running: переход в работу.
func Running() TaskUpdate {
	return TaskUpdate{Status: TaskRunning}
}

// Finished строит терминальное обновление по результату агента.
func Finished(res *AgentResult, at time.Time) TaskUpdate {
	upd := TaskUpdate{Status: TaskCompleted, CompletedAt: &at}
	if res == nil {
		upd.Status = TaskFailed
		upd.ErrorMessage = "agent returned no result"
		return upd
	}
	upd.Output = res.Output
	if !res.Success {
		upd.Status = TaskFailed
		upd.ErrorMessage = res.Error
	}
	return upd
}

// Crashed: терминальное обновление для ошибки или паники агента.
func Crashed(msg string, at time.Time) TaskUpdate {
	return TaskUpdate{Status: TaskFailed, ErrorMessage: msg, CompletedAt: &at}
}
