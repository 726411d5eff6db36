package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relaygate/gateway/internal/adapter"
	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/pool"
)

var errBoom = errors.New("boom")

// stubAdapter returns a canned OpenAI-shaped response for every call,
// mirroring internal/pool's own test stub.
type stubAdapter struct {
	respBody []byte
	failErr  error
}

func (s *stubAdapter) ListModels(ctx context.Context) ([]byte, error) {
	return []byte(`{"data":[{"id":"gpt-4o"}]}`), nil
}

func (s *stubAdapter) GenerateContent(ctx context.Context, path string, body []byte) ([]byte, http.Header, error) {
	if s.failErr != nil {
		return nil, nil, s.failErr
	}
	return s.respBody, nil, nil
}

func (s *stubAdapter) GenerateContentStream(ctx context.Context, path string, body []byte) (<-chan adapter.Line, http.Header, error) {
	ch := make(chan adapter.Line)
	close(ch)
	return ch, nil, nil
}

func newTestServer(t *testing.T, cfg config.Gateway, a adapter.Adapter) *Server {
	t.Helper()
	p, err := pool.New(filepath.Join(t.TempDir(), "pool.json"), 3, "openai-custom", func(kind string, creds pool.Credentials) (adapter.Adapter, error) {
		return a, nil
	}, "")
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	if _, err := p.Add("openai-custom", &pool.Entry{IsHealthy: true}); err != nil {
		t.Fatalf("pool.Add: %v", err)
	}
	cfg.PromptLogMode = "none"

	s, err := New(context.Background(), cfg, p, metrics.New(map[string]metrics.ModelCost{}))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	return s
}

func doRequest(s *Server, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.route(w, r)
	return w
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.Gateway{}, &stubAdapter{})
	w := doRequest(s, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestOpenAIChatCompletionsRoundTrip(t *testing.T) {
	canned := []byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	s := newTestServer(t, config.Gateway{}, &stubAdapter{respBody: canned})

	reqBody := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	w := doRequest(s, http.MethodPost, "/v1/chat/completions", reqBody, map[string]string{"Content-Type": "application/json"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v, body=%s", err, w.Body.String())
	}
	if out["model"] != "gpt-4o" {
		t.Fatalf("model = %v, want gpt-4o", out["model"])
	}
}

func TestUnauthenticatedRequestRejectedWhenTokensConfigured(t *testing.T) {
	cfg := config.Gateway{AuthTokens: []config.AuthTokenConfig{{Token: "secret-key"}}}
	s := newTestServer(t, cfg, &stubAdapter{respBody: []byte(`{}`)})

	w := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","messages":[]}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthenticatedRequestWithBearerTokenSucceeds(t *testing.T) {
	cfg := config.Gateway{AuthTokens: []config.AuthTokenConfig{{Token: "secret-key"}}}
	canned := []byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{}}`)
	s := newTestServer(t, cfg, &stubAdapter{respBody: canned})

	w := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer secret-key"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestTokenScopedToDifferentProviderIsForbidden(t *testing.T) {
	cfg := config.Gateway{AuthTokens: []config.AuthTokenConfig{{Token: "secret-key", AllowedProviders: []string{"claude-custom"}}}}
	s := newTestServer(t, cfg, &stubAdapter{respBody: []byte(`{}`)})

	w := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","messages":[]}`,
		map[string]string{"Authorization": "Bearer secret-key"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestListModelsCombinesPoolKinds(t *testing.T) {
	s := newTestServer(t, config.Gateway{}, &stubAdapter{})

	w := doRequest(s, http.MethodGet, "/v1/models", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data) != 1 || !strings.Contains(out.Data[0].ID, "gpt-4o") {
		t.Fatalf("data = %+v, want one entry containing gpt-4o", out.Data)
	}
}

func TestGeminiModelsListUsesGeminiShape(t *testing.T) {
	s := newTestServer(t, config.Gateway{}, &stubAdapter{})

	w := doRequest(s, http.MethodGet, "/v1beta/models", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Models) != 1 || !strings.HasPrefix(out.Models[0].Name, "models/") {
		t.Fatalf("models = %+v, want one entry prefixed with models/", out.Models)
	}
}

func TestOllamaGenerateUsesGenerateShapeNotChatShape(t *testing.T) {
	canned := []byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	s := newTestServer(t, config.Gateway{}, &stubAdapter{respBody: canned})

	w := doRequest(s, http.MethodPost, "/api/generate", `{"model":"gpt-4o","prompt":"hi"}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v, body=%s", err, w.Body.String())
	}
	if _, ok := out["response"]; !ok {
		t.Fatalf("body = %s, want a top-level response field (/api/generate shape)", w.Body.String())
	}
	if _, ok := out["message"]; ok {
		t.Fatalf("body = %s, want no message field (that's /api/chat's shape)", w.Body.String())
	}
	if out["response"] != "hi there" {
		t.Fatalf("response = %v, want %q", out["response"], "hi there")
	}
}

func TestOllamaChatUsesChatShape(t *testing.T) {
	canned := []byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{}}`)
	s := newTestServer(t, config.Gateway{}, &stubAdapter{respBody: canned})

	w := doRequest(s, http.MethodPost, "/api/chat", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v, body=%s", err, w.Body.String())
	}
	if _, ok := out["message"]; !ok {
		t.Fatalf("body = %s, want a top-level message field (/api/chat shape)", w.Body.String())
	}
	if _, ok := out["response"]; ok {
		t.Fatalf("body = %s, want no response field (that's /api/generate's shape)", w.Body.String())
	}
}

func TestOllamaTagsServesCombinedList(t *testing.T) {
	s := newTestServer(t, config.Gateway{}, &stubAdapter{})

	w := doRequest(s, http.MethodGet, "/api/tags", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "gpt-4o") {
		t.Fatalf("body = %s, want it to mention gpt-4o", w.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t, config.Gateway{}, &stubAdapter{})
	w := doRequest(s, http.MethodGet, "/not-a-route", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAdapterFailureSurfacesAsGatewayError(t *testing.T) {
	s := newTestServer(t, config.Gateway{}, &stubAdapter{failErr: errBoom})

	w := doRequest(s, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`, nil)
	if w.Code < 400 {
		t.Fatalf("status = %d, want an error status", w.Code)
	}
}
