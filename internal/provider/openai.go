package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saggiatore-ai/saggiatore/internal/models"
)

// familyConfig pins the endpoint details for one OpenAI-compatible family.
type familyConfig struct {
	baseURL string
	headers map[string]string
}

var familyConfigs = map[models.ProviderFamily]familyConfig{
	models.ProviderOpenAI: {
		baseURL: "https://api.openai.com/v1",
	},
	models.ProviderOpenRouter: {
		baseURL: "https://openrouter.ai/api/v1",
		headers: map[string]string{
			"X-Title": "Saggiatore Immigration Agent Eval",
		},
	},
	models.ProviderGroq: {
		baseURL: "https://api.groq.com/openai/v1",
	},
}

// httpBackend talks to one OpenAI-compatible /chat/completions endpoint.
// All three supported families share this implementation and differ only in
// base URL, credentials, and extra headers.
type httpBackend struct {
	family  models.ProviderFamily
	baseURL string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

// NewBackend returns a chat backend for the given endpoint family.
func NewBackend(family models.ProviderFamily, apiKey string) (Backend, error) {
	cfg, ok := familyConfigs[family]
	if !ok {
		return nil, fmt.Errorf("unknown provider family %q", family)
	}
	return &httpBackend{
		family:  family,
		baseURL: cfg.baseURL,
		apiKey:  apiKey,
		headers: cfg.headers,
		client:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (b *httpBackend) Family() models.ProviderFamily { return b.family }

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string        `json:"content"`
			ToolCalls []ToolCallRef `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (b *httpBackend) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	for k, v := range b.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: string(b.family), Message: err.Error()}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: string(b.family), Message: err.Error()}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ProviderError{
			Provider:   string(b.family),
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("unparseable response: %.200s", respBody),
		}
	}

	if httpResp.StatusCode != http.StatusOK || parsed.Error != nil {
		msg := fmt.Sprintf("%.500s", respBody)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &ProviderError{
			Provider:   string(b.family),
			StatusCode: httpResp.StatusCode,
			Message:    msg,
		}
	}

	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{
			Provider:   string(b.family),
			StatusCode: httpResp.StatusCode,
			Message:    "response contained no choices",
		}
	}

	choice := parsed.Choices[0].Message
	return &ChatResponse{
		Content:   choice.Content,
		ToolCalls: choice.ToolCalls,
	}, nil
}
