package domain

import (
	"errors"
	"strings"
)

// AgentType: вариант агента. В API задач передается в верхнем регистре.
type AgentType string

const (
	AgentMonitoring  AgentType = "monitoring"
	AgentIncident    AgentType = "incident"
	AgentRCA         AgentType = "rca"
	AgentRemediation AgentType = "remediation"
)

// AllAgentTypes фиксирует порядок обхода (регистрация, расписания, CLI).
var AllAgentTypes = []AgentType{AgentMonitoring, AgentIncident, AgentRCA, AgentRemediation}

// ParseAgentType разбирает тип без учета регистра ("MONITORING" -> monitoring).
func ParseAgentType(raw string) (AgentType, bool) {
	t := AgentType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllAgentTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Trigger: причина запуска агента.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerIncident  Trigger = "incident"
	TriggerManual    Trigger = "manual"
	TriggerWebhook   Trigger = "webhook"
)

// ParseTrigger возвращает fallback для пустых и неизвестных значений.
func ParseTrigger(raw string, fallback Trigger) Trigger {
	switch t := Trigger(strings.ToLower(strings.TrimSpace(raw))); t {
	case TriggerScheduled, TriggerIncident, TriggerManual, TriggerWebhook:
		return t
	default:
		return fallback
	}
}

var ErrMissingTenant = errors.New("agent context: tenant id is required")

// AgentContext: входные данные одного запуска агента.
// Собирается заново на каждый вызов и после этого не меняется.
type AgentContext struct {
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id,omitempty"`
	WebsiteID  string         `json:"website_id,omitempty"`
	IncidentID string         `json:"incident_id,omitempty"`
	Trigger    Trigger        `json:"trigger"`
	Input      map[string]any `json:"input,omitempty"`
}

func (c AgentContext) Validate() error {
	if c.TenantID == "" {
		return ErrMissingTenant
	}
	return nil
}

// AgentResult: итог запуска. Error заполнен тогда и только тогда, когда Success == false.
type AgentResult struct {
	Success         bool           `json:"success"`
	Output          map[string]any `json:"output"`
	ActionsTaken    []string       `json:"actions_taken"`
	Recommendations []string       `json:"recommendations"`
	Error           string         `json:"error,omitempty"`
}

// Succeeded собирает успешный результат. Nil-срезы заменяются пустыми,
// чтобы в JSON уходили [] а не null.
func Succeeded(output map[string]any, actions, recommendations []string) *AgentResult {
	if output == nil {
		output = map[string]any{}
	}
	if actions == nil {
		actions = []string{}
	}
	if recommendations == nil {
		recommendations = []string{}
	}
	return &AgentResult{
		Success:         true,
		Output:          output,
		ActionsTaken:    actions,
		Recommendations: recommendations,
	}
}

// Failure: структурированный отказ (агент отработал, но задачу не выполнил).
func Failure(msg string) *AgentResult {
	if msg == "" {
		msg = "unknown error"
	}
	return &AgentResult{
		Success:         false,
		Output:          map[string]any{},
		ActionsTaken:    []string{},
		Recommendations: []string{},
		Error:           msg,
	}
}
