package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/llm"
	"github.com/xela07ax/spaceai-agentops/internal/risk"
	"go.uber.org/zap"
)

const planTemperature = 0.2

// Completer: то, что планировщику нужно от LLM.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Planner предлагает действия по инциденту. Риск и апрув всегда из каталога.
type Planner struct {
	llm    Completer
	logger *zap.Logger
}

func NewPlanner(c Completer, logger *zap.Logger) *Planner {
	return &Planner{llm: c, logger: logger.Named("planner")}
}

// Plan возвращает упорядоченный список действий. Пустой список: автоматического
// исправления нет; это не ошибка.
func (p *Planner) Plan(ctx context.Context, incident domain.Incident) []domain.RemediationAction {
	raw, err := p.llm.Complete(ctx, llm.Request{
		System:      planSystemPrompt(),
		Prompt:      planPrompt(incident),
		Temperature: planTemperature,
	})
	if err != nil {
		p.logger.Warn("remediation planning request failed", zap.String("incident_id", incident.ID), zap.Error(err))
		return []domain.RemediationAction{}
	}

	actions, err := ParsePlan(raw)
	if err != nil {
		p.logger.Warn("failed to parse remediation plan", zap.String("incident_id", incident.ID), zap.Error(err))
		return []domain.RemediationAction{}
	}
	return actions
}

func planSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are an expert DevOps engineer deciding how to remediate a production incident.\n")
	sb.WriteString("Choose only from the following actions:\n")
	for _, e := range risk.Entries() {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Type, e.Summary)
	}
	sb.WriteString(`
Respond with a JSON array of actions:
[
  {
    "action_type": "action name",
    "target": "what to act on",
    "description": "why this action",
    "risk_level": "low/medium/high/critical"
  }
]`)
	return sb.String()
}

func planPrompt(incident domain.Incident) string {
	rootCause := incident.RootCause
	if rootCause == "" {
		rootCause = "Unknown"
	}
	rca := incident.RCAAnalysis
	if rca == nil {
		rca = map[string]any{}
	}
	rcaJSON, _ := json.MarshalIndent(rca, "", "  ")

	return fmt.Sprintf(`Incident Details:
Title: %s
Description: %s
Severity: %s
Root Cause: %s

RCA Analysis: %s

Suggest remediation actions to resolve this incident.`,
		incident.Title, incident.Description, incident.Severity, rootCause, rcaJSON)
}

type plannedAction struct {
	ActionType  *string        `json:"action_type"`
	Target      *string        `json:"target"`
	Description *string        `json:"description"`
	RiskLevel   string         `json:"risk_level"`
	Parameters  map[string]any `json:"parameters"`
}

var errMissingKey = errors.New("missing required key")

// ParsePlan разбирает ответ модели. Любая ошибка отменяет весь план.
func ParsePlan(raw string) ([]domain.RemediationAction, error) {
	body := llm.ExtractJSON(raw)

	var items []plannedAction
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		// Модели иногда заворачивают массив в {"actions": [...]}
		var wrapped struct {
			Actions []plannedAction `json:"actions"`
		}
		if werr := json.Unmarshal([]byte(body), &wrapped); werr != nil || wrapped.Actions == nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		items = wrapped.Actions
	}

	actions := make([]domain.RemediationAction, 0, len(items))
	for i, it := range items {
		switch {
		case it.ActionType == nil:
			return nil, fmt.Errorf("action %d: %w action_type", i, errMissingKey)
		case it.Target == nil:
			return nil, fmt.Errorf("action %d: %w target", i, errMissingKey)
		case it.Description == nil:
			return nil, fmt.Errorf("action %d: %w description", i, errMissingKey)
		}

		actions = append(actions, risk.Apply(domain.RemediationAction{
			Type:        domain.ActionType(strings.TrimSpace(*it.ActionType)),
			Target:      *it.Target,
			Description: *it.Description,
			Parameters:  it.Parameters,
		}))
	}
	return actions, nil
}
