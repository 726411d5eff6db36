package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicAdapter speaks to the Anthropic Messages API, grounded on the
// teacher's internal/service/llm/antropic package.
type AnthropicAdapter struct {
	baseURL string
	creds   Credentials
	client  *klient.Client
}

func NewAnthropicAdapter(baseURL string, creds Credentials, proxy string, insecureSkipVerify bool) (*AnthropicAdapter, error) {
	client, err := newKlient(baseURL, proxy, insecureSkipVerify, map[string]string{"anthropic-version": anthropicAPIVersion})
	if err != nil {
		return nil, err
	}
	return &AnthropicAdapter{baseURL: baseURL, creds: creds, client: client}, nil
}

func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
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

func (a *AnthropicAdapter) GenerateContent(ctx context.Context, path string, reqBody []byte) ([]byte, http.Header, error) {
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

func (a *AnthropicAdapter) GenerateContentStream(ctx context.Context, path string, reqBody []byte) (<-chan Line, http.Header, error) {
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
			if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event: ") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			ch <- Line{Data: []byte(data)}
		}
		if err := scanner.Err(); err != nil {
			ch <- Line{Err: err}
			return
		}
		ch <- Line{Err: io.EOF}
	}()

	return ch, resp.Header, nil
}

func (a *AnthropicAdapter) authorize(ctx context.Context, req *http.Request) error {
	tok, err := a.creds.bearer(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth token: %w", err)
	}
	if tok != "" {
		req.Header.Set("x-api-key", tok)
	}
	return nil
}
