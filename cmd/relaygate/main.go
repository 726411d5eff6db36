package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/relaygate/gateway/internal/adapter"
	"github.com/relaygate/gateway/internal/cluster"
	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/gateway"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/pool"
	"github.com/relaygate/gateway/internal/protocol"
)

var (
	name    = "relaygate"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := pool.New(cfg.Gateway.ProviderPoolsFilePath, cfg.Gateway.MaxErrorCount, cfg.Gateway.ModelProvider, adapterFactory, cfg.Gateway.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to build provider pool: %w", err)
	}
	if err := p.Load(); err != nil {
		return fmt.Errorf("failed to load provider pool: %w", err)
	}

	rec := metrics.New(map[string]metrics.ModelCost{})
	go rec.Run()
	defer rec.Stop()

	if cfg.Gateway.CronRefreshToken {
		var clu *cluster.Cluster
		if cfg.Gateway.Cluster != nil {
			clu, err = cluster.New(cfg.Gateway.Cluster)
			if err != nil {
				return fmt.Errorf("failed to join cluster: %w", err)
			}
			go func() {
				if err := clu.Start(ctx, nil); err != nil {
					slog.Error("cluster stopped", "error", err)
				}
			}()
			defer clu.Stop() //nolint:errcheck
		}
		go runRefreshCron(ctx, p, clu, cfg.Gateway.CronNearMinutes)
	}

	gw, err := gateway.New(ctx, cfg.Gateway, p, rec)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	slog.Info("starting gateway", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return gw.Start(ctx, cfg.Server.Host, cfg.Server.Port)
}

// adapterFactory builds the transport-layer adapter for one pool entry,
// picking the constructor by the kind's protocol family (spec.md §3) and
// wiring either a static API key or a refreshing OAuth token source
// (internal/adapter/oauth.go) depending on which credential fields the
// entry carries.
func adapterFactory(kind string, creds pool.Credentials) (adapter.Adapter, error) {
	wireCreds := adapter.Credentials{APIKey: creds.APIKey}
	if creds.RefreshToken != "" {
		wireCreds = adapter.Credentials{TokenSource: tokenSourceFor(kind, creds)}
	}

	switch protocol.TagOf(kind) {
	case protocol.Anthropic:
		return adapter.NewAnthropicAdapter(creds.BaseURL, wireCreds, creds.Proxy, false)
	case protocol.Gemini:
		return adapter.NewGeminiAdapter(creds.BaseURL, wireCreds, creds.Proxy, false)
	case protocol.Ollama:
		return adapter.OllamaPassthrough{}, nil
	default:
		return adapter.NewOpenAIAdapter(creds.BaseURL, wireCreds, creds.Proxy, false)
	}
}

// tokenSourceFor resolves the refresh flow for an OAuth-backed entry.
// Only the GitHub Copilot PAT exchange is implemented concretely (spec.md
// §3's "claude-kiro-oauth"/"gemini-cli-oauth"/"openai-qwen-oauth" kinds
// instead arrive with an already-valid, long-lived AccessToken from their
// own CLI login flow and are treated as a static bearer here — their
// refresh endpoints are vendor-internal and out of scope for this
// gateway, see DESIGN.md).
func tokenSourceFor(kind string, creds pool.Credentials) adapter.TokenSource {
	if strings.Contains(kind, "copilot") {
		return adapter.NewCoalescedTokenSource(creds.BaseURL+".token.json", adapter.GitHubCopilotExchange(creds.RefreshToken))
	}
	return staticToken(creds.AccessToken)
}

// staticToken adapts an already-issued access token (no refresh flow
// implemented) to the adapter.TokenSource interface.
type staticToken string

func (t staticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

// runRefreshCron periodically resets the health of every pool kind so
// entries marked unhealthy by transient upstream errors get another
// chance, matching the teacher's own cron-driven health reset posture
// (internal/service/cron) generalized from a single Telegram bot token
// refresh into a per-kind sweep across the whole pool. When clu is
// non-nil, the sweep only runs on the replica holding the scheduler lock,
// so a multi-replica deployment doesn't reset health N times per tick.
func runRefreshCron(ctx context.Context, p *pool.Pool, clu *cluster.Cluster, nearMinutes int) {
	interval := time.Duration(nearMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, p, clu)
		}
	}
}

func sweep(ctx context.Context, p *pool.Pool, clu *cluster.Cluster) {
	if clu != nil {
		lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := clu.LockScheduler(lockCtx); err != nil {
			slog.Warn("skip health sweep: could not acquire scheduler lock", "error", err)
			return
		}
		defer clu.UnlockScheduler() //nolint:errcheck
	}
	for _, kind := range p.Kinds() {
		p.ResetHealth(kind)
	}
}
