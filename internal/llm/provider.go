// Package llm выполняет текстовые completion у внешнего провайдера и структурированный
// анализ поверх них. Формат провайдера ядру не важен: prompt на входе, текст на выходе.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var ErrMissingAPIKey = errors.New("llm: api key is not configured")

// Request: один вызов completion.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer: единственная операция, которая нужна агентам от LLM.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Guard: обертка надежности из engine.
type Guard interface {
	Do(ctx context.Context, call func(ctx context.Context) error) error
}

// New выбирает провайдера по llm.provider.
func New(cfg infra.LLMConfig, guard Guard, logger *zap.Logger) (Completer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := httpProvider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		guard:   guard,
		logger:  logger.Named("llm"),
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		if base.baseURL == "" {
			base.baseURL = "https://api.openai.com/v1"
		}
		return &OpenAI{httpProvider: base}, nil
	case ProviderAnthropic:
		if base.baseURL == "" {
			base.baseURL = "https://api.anthropic.com"
		}
		return &Anthropic{httpProvider: base}, nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// httpProvider: общая часть HTTP-провайдеров.
type httpProvider struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
	guard   Guard
	logger  *zap.Logger
}

func (p *httpProvider) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llm: encode request: %w", err)
	}

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return engine.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := p.http.Do(req)
		if err != nil {
			return fmt.Errorf("llm: request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("llm: read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &engine.ThrottleError{
				RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
				Cause:      fmt.Errorf("llm: status %d", resp.StatusCode),
			}
		case resp.StatusCode >= 500:
			return fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(data))
		case resp.StatusCode >= 300:
			return engine.Permanent(fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(data)))
		}

		if err := json.Unmarshal(data, out); err != nil {
			return engine.Permanent(fmt.Errorf("llm: decode response: %w", err))
		}
		return nil
	}

	if p.guard == nil {
		return call(ctx)
	}
	return p.guard.Do(ctx, call)
}

func retryAfter(v string) time.Duration {
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
