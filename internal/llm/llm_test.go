package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

// stubCompleter отдает заранее заданный ответ и запоминает последний запрос.
type stubCompleter struct {
	answer string
	err    error
	last   Request
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) Complete(_ context.Context, req Request) (string, error) {
	s.last = req
	return s.answer, s.err
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```\nbye", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"whitespace", "  \n{\"a\":1}\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestParseInsight(t *testing.T) {
	t.Run("not json falls back to raw text", func(t *testing.T) {
		got, ok := ParseInsight("not json at all")
		assert.False(t, ok)
		assert.Equal(t, domain.Insight{
			Summary:         "not json at all",
			Severity:        domain.SeverityMedium,
			Issues:          []string{},
			Recommendations: []string{},
			Confidence:      50,
		}, got)
	})

	t.Run("fenced object is normalized", func(t *testing.T) {
		raw := "```json\n" + `{"summary":"db slow","severity":"HIGH","issues":["latency",{"description":"pool exhausted"}],"recommendations":["scale up"],"confidence":140}` + "\n```"
		got, ok := ParseInsight(raw)
		require.True(t, ok)
		assert.Equal(t, "db slow", got.Summary)
		assert.Equal(t, domain.SeverityHigh, got.Severity)
		assert.Equal(t, []string{"latency", "pool exhausted"}, got.Issues)
		assert.Equal(t, []string{"scale up"}, got.Recommendations)
		assert.Equal(t, 100, got.Confidence)
	})

	t.Run("unknown severity and missing lists", func(t *testing.T) {
		got, ok := ParseInsight(`{"summary":"x","severity":"catastrophic"}`)
		require.True(t, ok)
		assert.Equal(t, domain.SeverityMedium, got.Severity)
		assert.Empty(t, got.Issues)
		assert.NotNil(t, got.Issues)
		assert.Equal(t, 50, got.Confidence)
	})

	t.Run("array is not an insight", func(t *testing.T) {
		_, ok := ParseInsight(`[1,2,3]`)
		assert.False(t, ok)
	})
}

func TestAnalyzer_Analyze(t *testing.T) {
	metrics := engine.NewMetrics(prometheus.NewRegistry())

	t.Run("builds prompt and parses answer", func(t *testing.T) {
		stub := &stubCompleter{answer: `{"summary":"ok","severity":"low","issues":[],"recommendations":[],"confidence":90}`}
		a := NewAnalyzer(stub, 1500, metrics, zap.NewNop())

		got := a.Analyze(context.Background(), map[string]int{"errors": 3}, "incident detection", "Website has 3 failures")

		assert.Equal(t, "ok", got.Summary)
		assert.Equal(t, 90, got.Confidence)
		assert.Contains(t, stub.last.System, "incident detection")
		assert.Contains(t, stub.last.Prompt, `"errors": 3`)
		assert.Contains(t, stub.last.Prompt, "Additional context: Website has 3 failures")
		assert.InDelta(t, 0.3, stub.last.Temperature, 1e-9)
		assert.Equal(t, 1500, stub.last.MaxTokens)
	})

	t.Run("provider error yields fallback", func(t *testing.T) {
		stub := &stubCompleter{err: errors.New("boom")}
		a := NewAnalyzer(stub, 0, metrics, zap.NewNop())

		got := a.Analyze(context.Background(), nil, "anomaly detection", "")

		assert.Equal(t, FallbackInsight(unavailableSummary), got)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMFallbacks.WithLabelValues("provider_error")))
		assert.NotContains(t, stub.last.Prompt, "Additional context")
	})
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "hello", body.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c, err := New(infra.LLMConfig{Provider: "openai", Model: "gpt-4", APIKey: "sk-test", BaseURL: srv.URL + "/v1", Timeout: time.Second}, nil, zap.NewNop())
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body.System)
		assert.Equal(t, 2000, body.MaxTokens)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	c, err := New(infra.LLMConfig{Provider: "Anthropic", APIKey: "key", BaseURL: srv.URL}, nil, zap.NewNop())
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
}

func TestProvider_Errors(t *testing.T) {
	_, err := New(infra.LLMConfig{Provider: "cohere"}, nil, zap.NewNop())
	assert.Error(t, err)

	c, err := New(infra.LLMConfig{Provider: "openai"}, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c, err = New(infra.LLMConfig{Provider: "openai", APIKey: "bad", BaseURL: srv.URL}, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	var perm *engine.PermanentError
	assert.ErrorAs(t, err, &perm)
}
