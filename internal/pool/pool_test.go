package pool

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relaygate/gateway/internal/adapter"
)

type stubAdapter struct {
	fail bool
}

func (s *stubAdapter) ListModels(ctx context.Context) ([]byte, error) { return nil, nil }

func (s *stubAdapter) GenerateContent(ctx context.Context, path string, body []byte) ([]byte, http.Header, error) {
	if s.fail {
		return nil, nil, fmt.Errorf("boom")
	}
	return []byte(`{}`), nil, nil
}

func (s *stubAdapter) GenerateContentStream(ctx context.Context, path string, body []byte) (<-chan adapter.Line, http.Header, error) {
	return nil, nil, nil
}

func newTestPool(t *testing.T, maxErrorCount int) *Pool {
	t.Helper()
	p, err := New(filepath.Join(t.TempDir(), "pool.json"), maxErrorCount, "openai-custom", func(kind string, creds Credentials) (adapter.Adapter, error) {
		return &stubAdapter{}, nil
	}, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSelectSkipsDisabledAndUnhealthy(t *testing.T) {
	p := newTestPool(t, 3)

	healthy, _ := p.Add("openai-custom", &Entry{})
	disabled, _ := p.Add("openai-custom", &Entry{})
	p.Disable("openai-custom", disabled.UUID)
	unhealthy, _ := p.Add("openai-custom", &Entry{})
	unhealthy.IsHealthy = false

	chosen, _, err := p.Select("openai-custom", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if chosen.UUID != healthy.UUID {
		t.Fatalf("got entry %s, want the only healthy enabled entry %s", chosen.UUID, healthy.UUID)
	}
}

func TestSelectRoundRobinsOnLastUsedAt(t *testing.T) {
	p := newTestPool(t, 3)

	a, _ := p.Add("openai-custom", &Entry{})
	b, _ := p.Add("openai-custom", &Entry{})

	first, _, err := p.Select("openai-custom", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if first.UUID != a.UUID {
		t.Fatalf("first selection = %s, want %s (earlier zero-value LastUsedAt)", first.UUID, a.UUID)
	}

	second, _, err := p.Select("openai-custom", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if second.UUID != b.UUID {
		t.Fatalf("second selection = %s, want %s", second.UUID, b.UUID)
	}

	third, _, err := p.Select("openai-custom", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if third.UUID != a.UUID {
		t.Fatalf("third selection = %s, want %s (rotation wraps)", third.UUID, a.UUID)
	}
}

func TestSelectExcludesNotSupportedModels(t *testing.T) {
	p := newTestPool(t, 3)

	_, _ = p.Add("openai-custom", &Entry{NotSupportedModels: map[string]bool{"gpt-5-mini": true}})
	supported, _ := p.Add("openai-custom", &Entry{})

	chosen, _, err := p.Select("openai-custom", "gpt-5-mini")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if chosen.UUID != supported.UUID {
		t.Fatalf("got %s, want the entry that supports the model", chosen.UUID)
	}
}

func TestSelectReturnsNoHealthyProviderWhenNoneEligible(t *testing.T) {
	p := newTestPool(t, 3)
	disabled, _ := p.Add("openai-custom", &Entry{})
	p.Disable("openai-custom", disabled.UUID)

	if _, _, err := p.Select("openai-custom", ""); err == nil {
		t.Fatal("expected an error when every entry is disabled")
	}
}

func TestMarkUnhealthyFlipsAtMaxErrorCount(t *testing.T) {
	p := newTestPool(t, 2)
	e, _ := p.Add("openai-custom", &Entry{})

	p.MarkUnhealthy("openai-custom", e.UUID, "timeout")
	if !e.IsHealthy {
		t.Fatal("single error should not flip health with maxErrorCount=2")
	}

	p.MarkUnhealthy("openai-custom", e.UUID, "timeout again")
	if e.IsHealthy {
		t.Fatal("second error should flip health with maxErrorCount=2")
	}
	if e.ErrorCount != 2 {
		t.Fatalf("ErrorCount = %d, want 2", e.ErrorCount)
	}
}

func TestResetHealthClearsEveryEntryOfKind(t *testing.T) {
	p := newTestPool(t, 1)
	e, _ := p.Add("openai-custom", &Entry{})
	p.MarkUnhealthy("openai-custom", e.UUID, "fail")
	if e.IsHealthy {
		t.Fatal("expected entry unhealthy before reset")
	}

	p.ResetHealth("openai-custom")
	if !e.IsHealthy || e.ErrorCount != 0 || e.LastError != nil {
		t.Fatal("ResetHealth should clear errorCount, lastError, and restore isHealthy")
	}
}

func TestProbeMarksFailingEntryUnhealthy(t *testing.T) {
	p, err := New(filepath.Join(t.TempDir(), "pool.json"), 1, "openai-custom", func(kind string, creds Credentials) (adapter.Adapter, error) {
		return &stubAdapter{fail: true}, nil
	}, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, _ := p.Add("openai-custom", &Entry{CheckHealthEnabled: true})

	p.Probe(context.Background(), "openai-custom",
		func(model string) []byte { return []byte(`{}`) },
		func(model string) string { return "/v1/chat/completions" },
	)

	if e.IsHealthy {
		t.Fatal("expected probe failure to mark entry unhealthy")
	}
	if e.LastHealthCheckAt.IsZero() {
		t.Fatal("expected LastHealthCheckAt to be set")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	p := newTestPool(t, 3)
	e, _ := p.Add("openai-custom", &Entry{})

	if err := p.Delete("openai-custom", e.UUID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := p.Select("openai-custom", ""); err == nil {
		t.Fatal("expected no entries left to select")
	}
}

func TestEncryptionKeyHidesCredentialsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")
	factory := func(kind string, creds Credentials) (adapter.Adapter, error) {
		return &stubAdapter{}, nil
	}

	p, err := New(path, 3, "openai-custom", factory, "a-test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	added, err := p.Add("openai-custom", &Entry{Credentials: Credentials{APIKey: "sk-super-secret"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pool file: %v", err)
	}
	if strings.Contains(string(onDisk), "sk-super-secret") {
		t.Fatal("expected api key to be encrypted on disk, found plaintext")
	}

	reloaded, err := New(path, 3, "openai-custom", factory, "a-test-secret")
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, _, err := reloaded.Select("openai-custom", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if entry.UUID != added.UUID {
		t.Fatalf("reloaded entry UUID = %s, want %s", entry.UUID, added.UUID)
	}
	if entry.Credentials.APIKey != "sk-super-secret" {
		t.Fatalf("decrypted api key = %q, want original plaintext", entry.Credentials.APIKey)
	}
}

func TestEncryptionKeyMismatchFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")
	factory := func(kind string, creds Credentials) (adapter.Adapter, error) {
		return &stubAdapter{}, nil
	}

	p, err := New(path, 3, "openai-custom", factory, "right-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Add("openai-custom", &Entry{Credentials: Credentials{APIKey: "sk-secret"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	wrong, err := New(path, 3, "openai-custom", factory, "wrong-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := wrong.Load(); err == nil {
		t.Fatal("expected Load with the wrong encryption key to fail")
	}
}
