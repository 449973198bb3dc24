package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"go.uber.org/zap"
)

const (
	analysisTemperature = 0.3
	fallbackConfidence  = 50
	unavailableSummary  = "LLM analysis unavailable"
)

// Analyzer превращает произвольные данные в domain.Insight.
// Ошибок наружу не отдает: на любой сбой отвечает fallback-объектом.
type Analyzer struct {
	completer Completer
	maxTokens int
	metrics   *engine.Metrics
	logger    *zap.Logger
}

func NewAnalyzer(c Completer, maxTokens int, metrics *engine.Metrics, logger *zap.Logger) *Analyzer {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Analyzer{completer: c, maxTokens: maxTokens, metrics: metrics, logger: logger.Named("analyzer")}
}

// MaxTokens: лимит ответа, общий для всех запросов агентов.
func (a *Analyzer) MaxTokens() int { return a.maxTokens }

// Complete проксирует запрос провайдеру и считает метрики.
func (a *Analyzer) Complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = a.maxTokens
	}
	provider := a.completer.Name()

	text, err := a.completer.Complete(ctx, req)
	if err != nil {
		a.metrics.LLMRequests.WithLabelValues(provider, "error").Inc()
		return "", err
	}
	a.metrics.LLMRequests.WithLabelValues(provider, "ok").Inc()
	return text, nil
}

// Analyze просит модель разобрать data как analysisType.
func (a *Analyzer) Analyze(ctx context.Context, data any, analysisType, extraContext string) domain.Insight {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", data))
	}

	system := fmt.Sprintf(`You are an AI DevOps agent specialized in %s.
Analyze the provided data and answer with a single JSON object containing:
- "summary": brief summary of findings
- "severity": one of "critical", "high", "medium", "low"
- "issues": list of identified issues
- "recommendations": list of recommended actions
- "confidence": confidence score from 0 to 100`, analysisType)

	var prompt strings.Builder
	prompt.WriteString("Analyze the following data:\n")
	prompt.Write(payload)
	if extraContext != "" {
		prompt.WriteString("\n\nAdditional context: ")
		prompt.WriteString(extraContext)
	}
	prompt.WriteString("\n\nProvide your analysis in JSON format.")

	raw, err := a.Complete(ctx, Request{
		System:      system,
		Prompt:      prompt.String(),
		Temperature: analysisTemperature,
	})
	if err != nil {
		a.logger.Warn("llm request failed, using fallback insight",
			zap.String("analysis_type", analysisType),
			zap.String("trace_id", engine.TraceID(ctx)),
			zap.Error(err))
		a.metrics.LLMFallbacks.WithLabelValues("provider_error").Inc()
		return FallbackInsight(unavailableSummary)
	}

	insight, ok := ParseInsight(raw)
	if !ok {
		a.logger.Debug("llm answer is not a json object", zap.String("analysis_type", analysisType))
		a.metrics.LLMFallbacks.WithLabelValues("invalid_json").Inc()
	}
	return insight
}

// FallbackInsight: ответ по умолчанию, когда структуры нет.
func FallbackInsight(summary string) domain.Insight {
	return domain.Insight{
		Summary:         summary,
		Severity:        domain.SeverityMedium,
		Issues:          []string{},
		Recommendations: []string{},
		Confidence:      fallbackConfidence,
	}
}

// ParseInsight разбирает ответ модели. Второе значение false означает fallback.
func ParseInsight(raw string) (domain.Insight, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &obj); err != nil || obj == nil {
		return FallbackInsight(raw), false
	}

	insight := FallbackInsight("")
	insight.Summary = asString(obj["summary"])
	if sev, ok := domain.ParseSeverity(strings.ToLower(asString(obj["severity"]))); ok {
		insight.Severity = sev
	}
	insight.Issues = StringList(obj["issues"])
	insight.Recommendations = StringList(obj["recommendations"])
	if c, ok := obj["confidence"].(float64); ok {
		insight.Confidence = clampConfidence(c)
	}
	return insight, true
}

// ExtractJSON снимает markdown-обертку ```json ... ``` или ``` ... ```.
func ExtractJSON(raw string) string {
	text := raw
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	return strings.TrimSpace(text)
}

// StringList приводит JSON-массив к []string. Объекты сворачиваются в
// description/title/issue, если такое поле есть, иначе в компактный JSON.
func StringList(v any) []string {
	if list, ok := v.([]string); ok {
		return append([]string{}, list...)
	}
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"description", "title", "issue", "action"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
		b, _ := json.Marshal(t)
		return string(b)
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func clampConfidence(c float64) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return int(c)
	}
}
