package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// OpenAIProvider talks to any OpenAI-compatible chat-completions endpoint.
// vLLM, llama.cpp server and similar local backends all expose this shape.
type OpenAIProvider struct {
	name          string
	apiKey        string
	baseURL       string
	defaultModel  string
	strictSchemas bool
	client        *http.Client
}

// NewOpenAIProvider creates a provider against baseURL (e.g.
// "http://localhost:8000/v1"). apiKey may be empty for local backends.
func NewOpenAIProvider(name, apiKey, baseURL, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: defaultTimeout},
	}
}

// SetTimeout bounds a single completion request.
func (p *OpenAIProvider) SetTimeout(d time.Duration) {
	if d > 0 {
		p.client.Timeout = d
	}
}

// SetStrictSchemas enables tool schema cleaning for backends whose tool-call
// parsers reject advanced JSON Schema keywords.
func (p *OpenAIProvider) SetStrictSchemas(enabled bool) {
	p.strictSchemas = enabled
}

func (p *OpenAIProvider) Name() string { return p.name }

// wire-format request/response

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []ChatMessage    `json:"messages"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat issues a completion request. All transport and decode failures are
// wrapped in ErrBackendUnavailable so the agent loop can classify them
// without inspecting error strings.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	tools := req.Tools
	if p.strictSchemas {
		tools = CleanToolSchemas(tools)
	}

	body := openaiRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable,
			resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackendUnavailable, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrBackendUnavailable)
	}

	choice := parsed.Choices[0]
	slog.Debug("chat completion",
		"model", model,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

// ListModels returns the backend's model list (GET /models).
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	var parsed struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode models: %v", ErrBackendUnavailable, err)
	}
	return parsed.Data, nil
}

// HealthCheck probes the backend's model list endpoint.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

// WarmUp issues a tiny completion so the backend loads the model before real
// traffic arrives. Failures are reported, not fatal.
func (p *OpenAIProvider) WarmUp(ctx context.Context) error {
	_, err := p.Chat(ctx, ChatRequest{
		Messages:  []ChatMessage{{Role: "user", Content: "Hello"}},
		MaxTokens: 10,
	})
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
