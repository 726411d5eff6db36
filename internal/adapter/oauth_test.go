package adapter

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescedTokenSourceCachesUntilExpiry(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	ts := NewCoalescedTokenSource(filepath.Join(dir, "cred.json"), func(ctx context.Context) (tokenFile, error) {
		atomic.AddInt32(&calls, 1)
		return tokenFile{Token: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	for i := 0; i < 5; i++ {
		tok, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("got %q, want tok-1", tok)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("refreshFn called %d times, want 1", got)
	}
}

func TestCoalescedTokenSourceSingleflightsConcurrentRefresh(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	ts := NewCoalescedTokenSource(filepath.Join(dir, "cred.json"), func(ctx context.Context) (tokenFile, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return tokenFile{Token: "tok-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.Token(context.Background()); err != nil {
				t.Errorf("Token: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("refreshFn called %d times under concurrent load, want 1", got)
	}
}

func TestCoalescedTokenSourceReloadsFromDiskAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cred.json")

	first := NewCoalescedTokenSource(path, func(ctx context.Context) (tokenFile, error) {
		return tokenFile{Token: "tok-3", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	if _, err := first.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	var secondCalls int32
	second := NewCoalescedTokenSource(path, func(ctx context.Context) (tokenFile, error) {
		atomic.AddInt32(&secondCalls, 1)
		return tokenFile{Token: "tok-4", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	tok, err := second.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok-3" {
		t.Fatalf("got %q, want cached tok-3 loaded from disk", tok)
	}
	if atomic.LoadInt32(&secondCalls) != 0 {
		t.Fatal("refreshFn should not run when a valid cached token exists on disk")
	}
}
