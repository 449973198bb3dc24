package llm

import (
	"context"
	"errors"
)

// OpenAI: провайдер Chat Completions API.
type OpenAI struct {
	httpProvider
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	var resp openAIResponse
	err := o.postJSON(ctx, o.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + o.apiKey},
		openAIRequest{Model: o.model, Messages: messages, Temperature: req.Temperature, MaxTokens: req.MaxTokens},
		&resp,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
