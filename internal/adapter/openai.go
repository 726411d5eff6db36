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

// OpenAIAdapter speaks to any OpenAI Chat Completions-compatible upstream
// (openai-custom, and any OpenAI-shaped self-hosted endpoint), grounded on
// the teacher's internal/service/llm/openai package.
type OpenAIAdapter struct {
	baseURL string
	creds   Credentials
	client  *klient.Client
}

func NewOpenAIAdapter(baseURL string, creds Credentials, proxy string, insecureSkipVerify bool) (*OpenAIAdapter, error) {
	client, err := newKlient(baseURL, proxy, insecureSkipVerify, nil)
	if err != nil {
		return nil, err
	}
	return &OpenAIAdapter{baseURL: baseURL, creds: creds, client: client}, nil
}

func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
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

func (a *OpenAIAdapter) GenerateContent(ctx context.Context, path string, reqBody []byte) ([]byte, http.Header, error) {
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

func (a *OpenAIAdapter) GenerateContentStream(ctx context.Context, path string, reqBody []byte) (<-chan Line, http.Header, error) {
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
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				ch <- Line{Err: io.EOF}
				return
			}
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

func (a *OpenAIAdapter) authorize(ctx context.Context, req *http.Request) error {
	tok, err := a.creds.bearer(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

func newKlient(baseURL, proxy string, insecureSkipVerify bool, extraHeaders map[string]string) (*klient.Client, error) {
	headers := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range extraHeaders {
		headers[k] = []string{v}
	}
	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
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
	return klient.New(opts...)
}
