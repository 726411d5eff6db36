// Package pool implements the provider pool: a per-kind collection of
// credentialed upstream accounts with health tracking, skip-on-unhealthy
// selection, and admin CRUD, generalizing the teacher's single
// account-per-kind provider list into a tracked, health-aware rotation
// (grounded on taipm-go-deep-agent's multiprovider_health.go /
// multiprovider_selector.go, adapted to this gateway's entry shape and
// wired to internal/adapter rather than that package's own HTTP client).
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/relaygate/gateway/internal/adapter"
	"github.com/relaygate/gateway/internal/crypto"
	"github.com/relaygate/gateway/internal/gwerror"
)

// Credentials is opaque to the core per spec.md §3: exactly the fields
// relevant to the entry's auth variant are populated (static API key, or
// OAuth access/refresh/expiry, or a device-code blob).
type Credentials struct {
	APIKey       string    `json:"apiKey,omitempty"`
	BaseURL      string    `json:"baseURL,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	DeviceCode   string    `json:"deviceCode,omitempty"`
	Proxy        string    `json:"proxy,omitempty"`
}

type LastError struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Entry is one credentialed account in the pool for a given kind.
type Entry struct {
	UUID        string      `json:"uuid"`
	Kind        string      `json:"kind"`
	Credentials Credentials `json:"credentials"`

	IsHealthy  bool       `json:"isHealthy"`
	IsDisabled bool       `json:"isDisabled"`
	UsageCount int64      `json:"usageCount"`
	ErrorCount int        `json:"errorCount"`
	LastUsedAt time.Time  `json:"lastUsedAt"`
	LastError  *LastError `json:"lastError,omitempty"`

	LastHealthCheckAt    time.Time `json:"lastHealthCheckAt"`
	LastHealthCheckModel string    `json:"lastHealthCheckModel"`
	CheckHealthEnabled   bool      `json:"checkHealthEnabled"`
	CheckModelName       string    `json:"checkModelName,omitempty"`

	NotSupportedModels map[string]bool `json:"notSupportedModels,omitempty"`
}

func (e *Entry) supports(model string) bool {
	if model == "" || e.NotSupportedModels == nil {
		return true
	}
	return !e.NotSupportedModels[model]
}

// AdapterFactory builds the transport-layer adapter for one entry. Kept
// separate from Entry itself because adapters carry live HTTP clients and
// (for OAuth entries) a refresh closure that the gateway wiring layer
// knows how to construct, not the pool.
type AdapterFactory func(kind string, creds Credentials) (adapter.Adapter, error)

// Pool holds every kind's entry list plus the resolved adapters backing
// them. Reads may run concurrently; all mutation goes through the
// per-kind mutex in kindLocks.
type Pool struct {
	path          string
	maxErrorCount int
	defaultKind   string
	factory       AdapterFactory
	encKey        []byte // nil means credentials persist in plaintext

	structMu sync.RWMutex // guards entries/adapters map structure (add/delete kind or entry)
	entries  map[string][]*Entry
	adapters map[string]adapter.Adapter // keyed by entry UUID

	kindLocksMu sync.Mutex
	kindLocks   map[string]*sync.Mutex
}

// New builds a Pool backed by the JSON document at path. encryptionKey, if
// non-empty, is hashed (internal/crypto.DeriveKey) into the AES-256 key used
// to encrypt credential fields at rest; empty leaves them plaintext.
func New(path string, maxErrorCount int, defaultKind string, factory AdapterFactory, encryptionKey string) (*Pool, error) {
	p := &Pool{
		path:          path,
		maxErrorCount: maxErrorCount,
		defaultKind:   defaultKind,
		factory:       factory,
		entries:       map[string][]*Entry{},
		adapters:      map[string]adapter.Adapter{},
		kindLocks:     map[string]*sync.Mutex{},
	}
	if encryptionKey != "" {
		key, err := crypto.DeriveKey(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("derive pool encryption key: %w", err)
		}
		p.encKey = key
	}
	return p, nil
}

func (p *Pool) lockFor(kind string) *sync.Mutex {
	p.kindLocksMu.Lock()
	defer p.kindLocksMu.Unlock()
	m, ok := p.kindLocks[kind]
	if !ok {
		m = &sync.Mutex{}
		p.kindLocks[kind] = m
	}
	return m
}

// persistedDocument is the on-disk shape: a mapping from kind to its
// entry list (spec.md §4.E: "a JSON document named by
// PROVIDER_POOLS_FILE_PATH").
type persistedDocument map[string][]*Entry

// Load reads the pool's backing JSON document and resolves an adapter for
// every entry via the configured factory. A missing file is not an error:
// the pool simply starts empty, matching the teacher's "credential file
// assumed present, else treat as unconfigured" posture.
func (p *Pool) Load() error {
	b, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read provider pool file: %w", err)
	}

	var doc persistedDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse provider pool file: %w", err)
	}

	p.structMu.Lock()
	defer p.structMu.Unlock()
	for kind, list := range doc {
		p.entries[kind] = list
		for _, e := range list {
			e.Kind = kind
			if err := p.decryptCredentials(&e.Credentials); err != nil {
				return fmt.Errorf("decrypt credentials for entry %s: %w", e.UUID, err)
			}
			a, err := p.factory(kind, e.Credentials)
			if err != nil {
				return fmt.Errorf("build adapter for entry %s: %w", e.UUID, err)
			}
			p.adapters[e.UUID] = a
		}
	}
	return nil
}

// decryptCredentials and encryptCredentials round-trip the three
// bearer-secret fields through internal/crypto. A nil key makes both a
// no-op so an unconfigured gateway behaves exactly as before encryption
// was wired in.
func (p *Pool) decryptCredentials(c *Credentials) error {
	if p.encKey == nil {
		return nil
	}
	var err error
	if c.APIKey, err = crypto.Decrypt(c.APIKey, p.encKey); err != nil {
		return err
	}
	if c.AccessToken, err = crypto.Decrypt(c.AccessToken, p.encKey); err != nil {
		return err
	}
	if c.RefreshToken, err = crypto.Decrypt(c.RefreshToken, p.encKey); err != nil {
		return err
	}
	return nil
}

func (p *Pool) encryptCredentials(c Credentials) (Credentials, error) {
	if p.encKey == nil {
		return c, nil
	}
	var err error
	if c.APIKey, err = crypto.Encrypt(c.APIKey, p.encKey); err != nil {
		return c, err
	}
	if c.AccessToken, err = crypto.Encrypt(c.AccessToken, p.encKey); err != nil {
		return c, err
	}
	if c.RefreshToken, err = crypto.Encrypt(c.RefreshToken, p.encKey); err != nil {
		return c, err
	}
	return c, nil
}

// persist writes the pool's current state to disk atomically (temp file
// in the same directory, then rename) so a concurrent reader never
// observes a half-written document.
func (p *Pool) persist() error {
	if p.path == "" {
		return nil
	}
	p.structMu.RLock()
	doc, err := p.encryptedSnapshot()
	p.structMu.RUnlock()
	if err != nil {
		return fmt.Errorf("encrypt provider pool entries: %w", err)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".pool-*.tmp")
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
	return os.Rename(tmpPath, p.path)
}

// encryptedSnapshot copies every entry with its credentials encrypted for
// disk, leaving the live in-memory entries (and any adapter already built
// from their plaintext) untouched. Caller must hold structMu for reading.
func (p *Pool) encryptedSnapshot() (persistedDocument, error) {
	doc := make(persistedDocument, len(p.entries))
	for kind, list := range p.entries {
		out := make([]*Entry, len(list))
		for i, e := range list {
			cp := *e
			creds, err := p.encryptCredentials(e.Credentials)
			if err != nil {
				return nil, err
			}
			cp.Credentials = creds
			out[i] = &cp
		}
		doc[kind] = out
	}
	return doc, nil
}

// Select picks an eligible entry of kind for model, skipping disabled,
// unhealthy (unless every entry of the kind is unhealthy), and entries
// whose NotSupportedModels names model. Among eligible entries the tie
// break is round-robin on LastUsedAt ascending.
func (p *Pool) Select(kind, model string) (*Entry, adapter.Adapter, error) {
	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	p.structMu.RLock()
	list := p.entries[kind]
	p.structMu.RUnlock()
	if len(list) == 0 {
		return nil, nil, gwerror.New(gwerror.NoHealthyProvider, 502, "no provider entries for kind %s", kind)
	}

	var eligible []*Entry
	var merelyUnhealthy []*Entry
	for _, e := range list {
		if e.IsDisabled || !e.supports(model) {
			continue
		}
		if e.IsHealthy {
			eligible = append(eligible, e)
		} else {
			merelyUnhealthy = append(merelyUnhealthy, e)
		}
	}

	var chosen *Entry
	switch {
	case len(eligible) > 0:
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].LastUsedAt.Before(eligible[j].LastUsedAt) })
		chosen = eligible[0]
	case len(merelyUnhealthy) > 0:
		sort.Slice(merelyUnhealthy, func(i, j int) bool {
			return leastRecentErrorAt(merelyUnhealthy[i]).Before(leastRecentErrorAt(merelyUnhealthy[j]))
		})
		chosen = merelyUnhealthy[0]
	default:
		return nil, nil, gwerror.New(gwerror.NoHealthyProvider, 502, "no healthy provider entries for kind %s", kind)
	}

	chosen.UsageCount++
	chosen.LastUsedAt = time.Now()

	a := p.adapters[chosen.UUID]
	if a == nil {
		return nil, nil, gwerror.New(gwerror.Internal, 500, "no adapter resolved for entry %s", chosen.UUID)
	}
	return chosen, a, nil
}

func leastRecentErrorAt(e *Entry) time.Time {
	if e.LastError == nil {
		return time.Time{}
	}
	return e.LastError.At
}

// MarkUnhealthy increments errorCount and records lastError; once
// errorCount reaches maxErrorCount the entry flips unhealthy. Idempotent:
// calling it again after the entry is already unhealthy simply keeps
// incrementing the counter.
func (p *Pool) MarkUnhealthy(kind, uuid, errMsg string) {
	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	e := p.findLocked(kind, uuid)
	if e == nil {
		return
	}
	e.ErrorCount++
	e.LastError = &LastError{Message: errMsg, At: time.Now()}
	if e.ErrorCount >= p.maxErrorCount {
		e.IsHealthy = false
	}
}

// ResetHealth clears errorCount/lastError and marks every entry of kind
// healthy again.
func (p *Pool) ResetHealth(kind string) {
	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	p.structMu.RLock()
	list := p.entries[kind]
	p.structMu.RUnlock()
	for _, e := range list {
		e.ErrorCount = 0
		e.LastError = nil
		e.IsHealthy = true
	}
}

// probeConcurrency bounds simultaneous probe()s within one kind per
// spec.md §4.E.
const probeConcurrency = 4

// Probe runs a minimal generateContent call against every entry of kind
// with CheckHealthEnabled set, updating health from the outcome. Probes
// for a kind run in parallel bounded by probeConcurrency.
func (p *Pool) Probe(ctx context.Context, kind string, buildProbeRequest func(model string) []byte, probePath func(model string) string) {
	p.structMu.RLock()
	list := append([]*Entry(nil), p.entries[kind]...)
	p.structMu.RUnlock()

	sem := make(chan struct{}, probeConcurrency)
	var wg sync.WaitGroup
	for _, e := range list {
		if !e.CheckHealthEnabled {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(e *Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			p.probeOne(ctx, kind, e, buildProbeRequest, probePath)
		}(e)
	}
	wg.Wait()
}

func (p *Pool) probeOne(ctx context.Context, kind string, e *Entry, buildProbeRequest func(model string) []byte, probePath func(model string) string) {
	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	model := e.CheckModelName
	a := p.adapters[e.UUID]

	var err error
	if a == nil {
		err = fmt.Errorf("no adapter resolved for entry %s", e.UUID)
	} else {
		_, _, err = a.GenerateContent(probeCtx, probePath(model), buildProbeRequest(model))
	}

	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()
	e.LastHealthCheckAt = time.Now()
	e.LastHealthCheckModel = model
	if err != nil {
		e.ErrorCount++
		e.LastError = &LastError{Message: err.Error(), At: time.Now()}
		if e.ErrorCount >= p.maxErrorCount {
			e.IsHealthy = false
		}
		return
	}
	e.ErrorCount = 0
	e.LastError = nil
	e.IsHealthy = true
}

// Enable/Disable flip IsDisabled on a specific entry.

func (p *Pool) Enable(kind, uuid string) error  { return p.setDisabled(kind, uuid, false) }
func (p *Pool) Disable(kind, uuid string) error { return p.setDisabled(kind, uuid, true) }

func (p *Pool) setDisabled(kind, uuid string, disabled bool) error {
	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	e := p.findLocked(kind, uuid)
	if e == nil {
		return fmt.Errorf("no entry %s in kind %s", uuid, kind)
	}
	e.IsDisabled = disabled
	return p.persist()
}

func (p *Pool) findLocked(kind, uuid string) *Entry {
	p.structMu.RLock()
	defer p.structMu.RUnlock()
	for _, e := range p.entries[kind] {
		if e.UUID == uuid {
			return e
		}
	}
	return nil
}

// Add creates a new entry for kind, assigning it a fresh UUID, and
// persists the pool.
func (p *Pool) Add(kind string, e *Entry) (*Entry, error) {
	if e.UUID == "" {
		e.UUID = ulid.Make().String()
	}
	e.Kind = kind
	e.IsHealthy = true

	a, err := p.factory(kind, e.Credentials)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}

	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	p.structMu.Lock()
	p.entries[kind] = append(p.entries[kind], e)
	p.adapters[e.UUID] = a
	p.structMu.Unlock()

	return e, p.persist()
}

// Update replaces the mutable fields of an existing entry (credentials,
// health-check config, not-supported set) and rebuilds its adapter.
func (p *Pool) Update(kind string, e *Entry) error {
	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	existing := p.findLocked(kind, e.UUID)
	if existing == nil {
		return fmt.Errorf("no entry %s in kind %s", e.UUID, kind)
	}

	a, err := p.factory(kind, e.Credentials)
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}

	existing.Credentials = e.Credentials
	existing.CheckHealthEnabled = e.CheckHealthEnabled
	existing.CheckModelName = e.CheckModelName
	existing.NotSupportedModels = e.NotSupportedModels

	p.structMu.Lock()
	p.adapters[existing.UUID] = a
	p.structMu.Unlock()

	return p.persist()
}

// Delete removes an entry from kind's list.
func (p *Pool) Delete(kind, uuid string) error {
	mu := p.lockFor(kind)
	mu.Lock()
	defer mu.Unlock()

	p.structMu.Lock()
	list := p.entries[kind]
	out := list[:0]
	found := false
	for _, e := range list {
		if e.UUID == uuid {
			found = true
			delete(p.adapters, e.UUID)
			continue
		}
		out = append(out, e)
	}
	p.entries[kind] = out
	p.structMu.Unlock()

	if !found {
		return fmt.Errorf("no entry %s in kind %s", uuid, kind)
	}
	return p.persist()
}

// Entries returns a snapshot of every entry across every kind, for
// listing/admin purposes.
func (p *Pool) Entries() map[string][]*Entry {
	p.structMu.RLock()
	defer p.structMu.RUnlock()
	out := make(map[string][]*Entry, len(p.entries))
	for k, v := range p.entries {
		cp := make([]*Entry, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// DefaultKind is the process-config fallback kind used when a request
// carries no display prefix and no path-prefix override.
func (p *Pool) DefaultKind() string { return p.defaultKind }

// HasKind reports whether kind has at least one configured entry, used to
// recognize the "/<kind>/..." path-prefix override (spec.md §6).
func (p *Pool) HasKind(kind string) bool {
	p.structMu.RLock()
	defer p.structMu.RUnlock()
	return len(p.entries[kind]) > 0
}

// Kinds returns every configured kind, sorted, for combined model listing.
func (p *Pool) Kinds() []string {
	p.structMu.RLock()
	defer p.structMu.RUnlock()
	out := make([]string, 0, len(p.entries))
	for k, v := range p.entries {
		if len(v) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
