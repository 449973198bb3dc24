package llm

import (
	"context"
	"errors"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic: провайдер Messages API.
type Anthropic struct {
	httpProvider
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	if a.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000 // max_tokens у Messages API обязателен
	}

	var resp anthropicResponse
	err := a.postJSON(ctx, a.baseURL+"/v1/messages",
		map[string]string{
			"x-api-key":         a.apiKey,
			"anthropic-version": anthropicVersion,
		},
		anthropicRequest{
			Model:       a.model,
			MaxTokens:   maxTokens,
			System:      req.System,
			Temperature: req.Temperature,
			Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		},
		&resp,
	)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("llm: anthropic returned no text content")
	}
	return sb.String(), nil
}
