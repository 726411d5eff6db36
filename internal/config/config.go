package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
)

var Service = ""

// Config is the gateway's full runtime configuration, loaded via
// rakunlabs/chu with a RELAYGATE_-prefixed environment loader, adapted
// from the teacher's internal/config.Config (AT_ prefix) to the request
// surface named in spec.md §6.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server Server `cfg:"server"`

	// Gateway configures auth, provider-pool location, system-prompt
	// injection, prompt logging, and retry/cron tuning.
	Gateway Gateway `cfg:"gateway"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`
}

// Gateway maps one-to-one onto spec.md §6's flag list.
//
// Example YAML:
//
//	gateway:
//	  auth_tokens:
//	    - token: "sk-master-key"
//	      name: "Master Key"
//	  model_provider: openai-custom
//	  provider_pools_file_path: ./provider-pools.json
//	  system_prompt_mode: off
//	  prompt_log_mode: none
type Gateway struct {
	// AuthTokens realizes REQUIRED_API_KEY as the teacher's richer
	// AuthTokenConfig shape, reused verbatim since it already expresses
	// bearer-token auth with optional per-token model/provider scoping — a
	// superset of spec.md's single static key. An empty list means the
	// gateway allows unauthenticated access, matching the teacher.
	AuthTokens []AuthTokenConfig `cfg:"auth_tokens"`

	// ModelProvider is the default pool kind used when a request names no
	// display prefix and no path-prefix override (spec.md §4.H).
	ModelProvider string `cfg:"model_provider" default:"openai-custom"`

	ProviderPoolsFilePath string `cfg:"provider_pools_file_path" default:"./provider-pools.json"`

	SystemPromptFilePath string `cfg:"system_prompt_file_path"`
	// SystemPromptMode is one of "append", "override", "off".
	SystemPromptMode string `cfg:"system_prompt_mode" default:"off"`

	// PromptLogMode is one of "none", "file", "console".
	PromptLogMode     string `cfg:"prompt_log_mode" default:"none"`
	PromptLogBaseName string `cfg:"prompt_log_base_name" default:"prompt"`

	RequestMaxRetries int           `cfg:"request_max_retries" default:"1"`
	RequestBaseDelay  time.Duration `cfg:"request_base_delay" default:"500ms"`

	CronNearMinutes  int  `cfg:"cron_near_minutes" default:"1"`
	CronRefreshToken bool `cfg:"cron_refresh_token" default:"true"`

	MaxErrorCount int `cfg:"max_error_count" default:"3"`

	// EncryptionKey, when set, is hashed into an AES-256 key
	// (internal/crypto) and used to encrypt credential fields (API keys,
	// access/refresh tokens) before they hit the provider pool file on
	// disk. Empty means credentials persist in plaintext.
	EncryptionKey string `cfg:"encryption_key" log:"-"`

	// Cluster, when non-nil, enables alan UDP peer discovery
	// (internal/cluster) so that multiple gateway replicas elect a single
	// instance to run the cron health-reset sweep instead of every
	// replica running it independently.
	Cluster *alan.Config `cfg:"cluster"`
}

// AuthTokenConfig describes a single bearer token for gateway
// authentication, with optional scoping and expiration — carried over
// from the teacher's internal/config.AuthTokenConfig, minus the
// webhook-scoping field (this gateway has no webhook surface).
type AuthTokenConfig struct {
	Token string `cfg:"token" json:"token" log:"-"`
	Name  string `cfg:"name" json:"name"`

	// AllowedProviders restricts this token to specific pool kinds. If
	// empty/nil, every kind is accessible.
	AllowedProviders []string `cfg:"allowed_providers" json:"allowed_providers"`

	// AllowedModels restricts this token to specific model names. If
	// empty/nil, every model is accessible.
	AllowedModels []string `cfg:"allowed_models" json:"allowed_models"`

	// ExpiresAt is an optional RFC3339 expiration timestamp. After this
	// time the token is rejected. If empty, the token never expires.
	ExpiresAt string `cfg:"expires_at" json:"expires_at"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("RELAYGATE_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
