package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggurov/local-llm/internal/agent"
	"github.com/ggurov/local-llm/internal/providers"
	"github.com/ggurov/local-llm/internal/sessions"
	"github.com/ggurov/local-llm/internal/tools"
)

// stubProvider lets each test script the backend's behavior.
type stubProvider struct {
	chat      func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
	models    []providers.ModelInfo
	healthErr error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if p.chat != nil {
		return p.chat(ctx, req)
	}
	return &providers.ChatResponse{Content: "stub answer", FinishReason: "stop"}, nil
}

func (p *stubProvider) ListModels(ctx context.Context) ([]providers.ModelInfo, error) {
	if p.healthErr != nil {
		return nil, p.healthErr
	}
	return p.models, nil
}

func (p *stubProvider) HealthCheck(ctx context.Context) error { return p.healthErr }

func newTestServer(t *testing.T, provider providers.Provider, token string) *Server {
	t.Helper()
	registry := tools.NewRegistry(0, nil)
	mapTool := tools.NewGetMapTool()
	mapTool.Set("boost_target", 1.25)
	if err := registry.Register(mapTool); err != nil {
		t.Fatalf("register get_map: %v", err)
	}
	registry.Freeze()

	store := sessions.NewStore(nil, time.Hour, nil)
	loop := agent.NewLoop(provider, registry, agent.Options{Model: "test-model"})

	return NewServer(Options{
		Addr:     ":0",
		Token:    token,
		Registry: registry,
		Sessions: store,
		Loop:     loop,
		Provider: provider,
	})
}

func do(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAlwaysOK(t *testing.T) {
	// Backend down: health must still answer 200 with degraded status.
	s := newTestServer(t, &stubProvider{healthErr: errors.New("connection refused")}, "")
	rec := do(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status     string                     `json:"status"`
		Components map[string]componentHealth `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", body.Status)
	}
	if body.Components["backend"].Healthy {
		t.Fatal("backend reported healthy while down")
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "secret")
	rec := do(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without token", rec.Code)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "secret")
	for _, token := range []string{"", "wrong"} {
		rec := do(t, s, http.MethodGet, "/tools/schemas", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/tools/schemas", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
}

func TestToolSchemas(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	rec := do(t, s, http.MethodGet, "/tools/schemas", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Tools []providers.ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Tools) != 1 || body.Tools[0].Function.Name != "get_map" {
		t.Fatalf("tools = %+v, want get_map", body.Tools)
	}
}

func TestToolExecute(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	rec := do(t, s, http.MethodPost, "/tools/execute", "", map[string]interface{}{
		"tool_name": "get_map",
		"arguments": map[string]interface{}{"key": "boost_target"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(body.Result) != "1.25" {
		t.Fatalf("result = %s, want 1.25", body.Result)
	}
}

func TestToolExecuteErrors(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing tool_name",
			body:       map[string]interface{}{"arguments": map[string]interface{}{}},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION",
		},
		{
			name:       "unknown tool",
			body:       map[string]interface{}{"tool_name": "nope"},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "invalid arguments",
			body: map[string]interface{}{
				"tool_name": "get_map",
				"arguments": map[string]interface{}{"key": 42},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/tools/execute", "", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestChatReturnsAnswerAndSession(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	rec := do(t, s, http.MethodPost, "/chat", "", map[string]interface{}{
		"message": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Response != "stub answer" {
		t.Fatalf("response = %q", body.Response)
	}
	if body.SessionID == "" {
		t.Fatal("session_id missing")
	}
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	rec := do(t, s, http.MethodPost, "/chat", "", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatBackendDown(t *testing.T) {
	provider := &stubProvider{
		chat: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
			return nil, providers.ErrBackendUnavailable
		},
	}
	s := newTestServer(t, provider, "")
	rec := do(t, s, http.MethodPost, "/chat", "", map[string]interface{}{"message": "hi"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "BACKEND_UNAVAILABLE") {
		t.Fatalf("body = %s, want BACKEND_UNAVAILABLE", rec.Body.String())
	}
}

func TestChatTurnLimit(t *testing.T) {
	provider := &stubProvider{
		chat: func(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
			return &providers.ChatResponse{
				ToolCalls: []providers.ToolCall{{
					ID:   "tc",
					Type: "function",
					Function: providers.FunctionCall{
						Name:      "get_map",
						Arguments: `{"key": "boost_target"}`,
					},
				}},
				FinishReason: "tool_calls",
			}, nil
		},
	}
	s := newTestServer(t, provider, "")
	rec := do(t, s, http.MethodPost, "/chat", "", map[string]interface{}{"message": "loop"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "TURN_LIMIT_EXCEEDED") {
		t.Fatalf("body = %s, want TURN_LIMIT_EXCEEDED", rec.Body.String())
	}
}

func TestChatCompletionsShape(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	rec := do(t, s, http.MethodPost, "/chat/completions", "", map[string]interface{}{
		"model": "test-model",
		"messages": []map[string]string{
			{"role": "user", "content": "what is the boost target?"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Object != "chat.completion" || len(body.Choices) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Choices[0].Message.Content != "stub answer" {
		t.Fatalf("content = %q", body.Choices[0].Message.Content)
	}
}

func TestModels(t *testing.T) {
	s := newTestServer(t, &stubProvider{
		models: []providers.ModelInfo{{ID: "Qwen/Qwen2.5-7B-Instruct-AWQ"}},
	}, "")
	rec := do(t, s, http.MethodGet, "/models", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "Qwen/Qwen2.5-7B-Instruct-AWQ" {
		t.Fatalf("data = %+v", body.Data)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &stubProvider{}, "")
	s.opts.Limiter = NewRateLimiter(60, 2)
	defer s.opts.Limiter.Stop()

	var limited bool
	for i := 0; i < 5; i++ {
		rec := do(t, s, http.MethodGet, "/tools/schemas", "", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}
