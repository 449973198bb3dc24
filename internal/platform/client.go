// Package platform реализует клиент REST API платформы: очередь задач агентов,
// инциденты, запросы на подтверждение и источники сигналов.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

// Guard: обертка надежности (rate limit, circuit breaker, retry).
type Guard interface {
	Do(ctx context.Context, call func(ctx context.Context) error) error
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	guard   Guard
	logger  *zap.Logger
}

// NewClient. guard может быть nil: тогда каждый вызов выполняется один раз.
func NewClient(cfg infra.PlatformConfig, guard Guard, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: timeout},
		guard:   guard,
		logger:  logger.Named("platform"),
	}
}

// do выполняет запрос и декодирует JSON-ответ в out (если out != nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("platform: encode %s %s: %w", method, path, err)
		}
	}

	call := func(ctx context.Context) error {
		return c.roundTrip(ctx, method, path, query, payload, out)
	}
	if c.guard == nil {
		return call(ctx)
	}
	return c.guard.Do(ctx, call)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return engine.Permanent(fmt.Errorf("platform: build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set(engine.TraceHeader, engine.TraceID(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("platform: read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: truncate(string(data), 512)}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			return &engine.ThrottleError{
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
				Cause:      apiErr,
			}
		case resp.StatusCode >= 500:
			return apiErr
		default:
			// 4xx повторять бессмысленно
			return engine.Permanent(apiErr)
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return engine.Permanent(fmt.Errorf("platform: decode %s %s: %w", method, path, err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// unwrapEnvelope достает объект из {"<key>": {...}} или берет тело целиком.
func unwrapEnvelope(raw map[string]json.RawMessage, key string, out any) error {
	if inner, ok := raw[key]; ok {
		if string(inner) == "null" {
			return ErrNotFound
		}
		return json.Unmarshal(inner, out)
	}
	whole, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(whole, out)
}
