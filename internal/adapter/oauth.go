package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenSource returns a bearer token, refreshing and caching as needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// refreshExpiryBuffer mirrors the teacher's CopilotTokenSource: refresh a
// few minutes before the token's stated expiry rather than waiting for a
// 401 to trigger it.
const refreshExpiryBuffer = 5 * time.Minute

// tokenFile is the atomically-persisted on-disk shape of a refreshed
// credential, keyed by the provider entry's credential path.
type tokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CoalescedTokenSource exchanges a long-lived secret (a GitHub PAT, a
// refresh token) for a short-lived bearer token via refreshFn, caching the
// result on disk at credentialPath and coalescing concurrent refreshes
// across goroutines with singleflight so that N simultaneous requests for
// the same provider entry trigger exactly one upstream refresh call
// (generalizes the teacher's mutex-guarded CopilotTokenSource,
// internal/service/llm/openai/auth.go, to multiple provider entries
// sharing one process).
type CoalescedTokenSource struct {
	credentialPath string
	refreshFn      func(ctx context.Context) (tokenFile, error)

	group singleflight.Group

	mu     sync.Mutex
	cached tokenFile
}

// NewCoalescedTokenSource builds a token source backed by refreshFn, with
// cached tokens persisted at credentialPath so a process restart does not
// force an immediate re-exchange.
func NewCoalescedTokenSource(credentialPath string, refreshFn func(ctx context.Context) (tokenFile, error)) *CoalescedTokenSource {
	ts := &CoalescedTokenSource{credentialPath: credentialPath, refreshFn: refreshFn}
	if tf, err := loadTokenFile(credentialPath); err == nil {
		ts.cached = tf
	}
	return ts
}

func (ts *CoalescedTokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.cached.Token != "" && time.Now().Before(ts.cached.ExpiresAt.Add(-refreshExpiryBuffer)) {
		tok := ts.cached.Token
		ts.mu.Unlock()
		return tok, nil
	}
	ts.mu.Unlock()

	v, err, _ := ts.group.Do(ts.credentialPath, func() (any, error) {
		tf, err := ts.refreshFn(ctx)
		if err != nil {
			return "", err
		}
		ts.mu.Lock()
		ts.cached = tf
		ts.mu.Unlock()
		if err := writeTokenFileAtomic(ts.credentialPath, tf); err != nil {
			return "", fmt.Errorf("persist refreshed token: %w", err)
		}
		return tf.Token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func loadTokenFile(path string) (tokenFile, error) {
	if path == "" {
		return tokenFile{}, fmt.Errorf("no credential path configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	return tf, nil
}

// writeTokenFileAtomic writes via a temp file in the same directory
// followed by rename, so a concurrent reader (or a crash mid-write) never
// observes a partially written credential file.
func writeTokenFileAtomic(path string, tf tokenFile) error {
	if path == "" {
		return nil
	}
	b, err := json.Marshal(tf)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// GitHubCopilotExchange exchanges a GitHub OAuth token or PAT for a
// short-lived Copilot bearer token, the teacher's token-exchange call
// wrapped to return the shape CoalescedTokenSource expects.
func GitHubCopilotExchange(pat string) func(ctx context.Context) (tokenFile, error) {
	return func(ctx context.Context) (tokenFile, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/copilot_internal/v2/token", nil)
		if err != nil {
			return tokenFile{}, err
		}
		req.Header.Set("Authorization", "token "+pat)
		req.Header.Set("User-Agent", "GithubCopilot/1.0")
		req.Header.Set("Accept", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return tokenFile{}, fmt.Errorf("token exchange request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return tokenFile{}, fmt.Errorf("read token response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return tokenFile{}, fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, body)
		}

		var out struct {
			Token     string `json:"token"`
			ExpiresAt int64  `json:"expires_at"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return tokenFile{}, fmt.Errorf("parse token response: %w", err)
		}
		if out.Token == "" {
			return tokenFile{}, fmt.Errorf("token exchange returned empty token")
		}

		return tokenFile{Token: out.Token, ExpiresAt: time.Unix(out.ExpiresAt, 0)}, nil
	}
}
