package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter speaks to the Google Generative Language API, grounded on
// the teacher's internal/service/llm/gemini package. Unlike OpenAI/
// Anthropic, the model name is part of the URL path rather than the
// request body, so path carries "/v1beta/models/{model}:generateContent"
// (or streamGenerateContent) built by the caller.
type GeminiAdapter struct {
	baseURL string
	creds   Credentials
	client  *klient.Client
}

func NewGeminiAdapter(baseURL string, creds Credentials, proxy string, insecureSkipVerify bool) (*GeminiAdapter, error) {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if creds.APIKey != "" {
		headers["x-goog-api-key"] = []string{creds.APIKey}
	}
	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	client, err := klient.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	return &GeminiAdapter{baseURL: baseURL, creds: creds, client: client}, nil
}

func (a *GeminiAdapter) ListModels(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1beta/models", nil)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(ctx, req); err != nil {
		return nil, err
	}
	var body []byte
	if err := a.client.Do(req, func(r *http.Response) error {
		b, err := io.ReadAll(r.Body)
		body = b
		if r.StatusCode >= 300 {
			return upstreamErrorFor(r.StatusCode, b)
		}
		return err
	}); err != nil {
		return nil, err
	}
	return body, nil
}

func (a *GeminiAdapter) GenerateContent(ctx context.Context, path string, reqBody []byte) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := a.authorize(ctx, req); err != nil {
		return nil, nil, err
	}

	var body []byte
	var headers http.Header
	if err := a.client.Do(req, func(r *http.Response) error {
		headers = r.Header
		b, err := io.ReadAll(r.Body)
		body = b
		if r.StatusCode >= 300 {
			return upstreamErrorFor(r.StatusCode, b)
		}
		return err
	}); err != nil {
		return nil, nil, err
	}
	return body, headers, nil
}

func (a *GeminiAdapter) GenerateContentStream(ctx context.Context, path string, reqBody []byte) (<-chan Line, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := a.authorize(ctx, req); err != nil {
		return nil, nil, err
	}

	resp, err := a.client.HTTP.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("streaming request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, nil, upstreamErrorFor(resp.StatusCode, b)
	}

	ch := make(chan Line, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			ch <- Line{Data: []byte(strings.TrimPrefix(line, "data: "))}
		}
		if err := scanner.Err(); err != nil {
			ch <- Line{Err: err}
			return
		}
		ch <- Line{Err: io.EOF}
	}()

	return ch, resp.Header, nil
}

// authorize applies a freshly resolved key as a header rather than relying
// solely on the client's default header set, since a TokenSource-backed
// credential (OAuth-refreshed service-account token) must override the
// static key per request.
func (a *GeminiAdapter) authorize(ctx context.Context, req *http.Request) error {
	tok, err := a.creds.bearer(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth token: %w", err)
	}
	if a.creds.TokenSource != nil && tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Del("x-goog-api-key")
	}
	return nil
}
