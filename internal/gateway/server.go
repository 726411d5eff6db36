// Package gateway hosts the HTTP surface described in spec §4.F: one
// handler file per client-dialect family, wired onto an ada.Server the
// way the teacher's internal/server/server.go wires its own routes, and
// a shared request orchestrator (generate.go, orchestrate.go) that every handler funnels
// through for auth, model resolution, pool selection, conversion, retry,
// and response streaming.
package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/pool"
)

// Server is the gateway's HTTP surface: one ada.Server multiplexer fronted
// by the same recover/server/cors/requestid/log/telemetry middleware
// chain the teacher applies to every route, dispatching every request
// through a single route table (the route method) rather than the teacher's
// nested route groups, since the kind-prefix override of spec.md §6
// (`/<kind>/...`) needs the first path segment inspected before the rest
// of the path can be matched.
type Server struct {
	cfg     config.Gateway
	server  *ada.Server
	pool    *pool.Pool
	metrics *metrics.Recorder

	systemPrompt string // loaded once at startup; empty when SystemPromptMode is "off"
	promptLog    *promptLogger

	// thoughtSigCache caches Gemini thought_signature tokens keyed by tool
	// call ID, the same supplemented feature the teacher carries in
	// internal/server/server.go, generalized here to run regardless of
	// which client dialect is fronting the request.
	thoughtSigCache *thoughtSignatureCache
}

func New(ctx context.Context, gatewayCfg config.Gateway, p *pool.Pool, rec *metrics.Recorder) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		cfg:             gatewayCfg,
		server:          mux,
		pool:            p,
		metrics:         rec,
		thoughtSigCache: newThoughtSignatureCache(),
	}

	if gatewayCfg.SystemPromptMode != "off" && gatewayCfg.SystemPromptFilePath != "" {
		prompt, err := loadSystemPrompt(gatewayCfg.SystemPromptFilePath)
		if err != nil {
			return nil, err
		}
		s.systemPrompt = prompt
	}

	if gatewayCfg.PromptLogMode != "none" {
		s.promptLog = newPromptLogger(gatewayCfg.PromptLogMode, gatewayCfg.PromptLogBaseName)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.thoughtSigCache.sweep()
			}
		}
	}()

	mux.Handle("/*", http.HandlerFunc(s.route))

	return s, nil
}

// route is the gateway's single entry point. It peels off an optional
// "/<kind>/..." prefix (spec.md §6's path-prefix override) before
// dispatching on method + the remaining path, since the kind segment's
// value is arbitrary pool-entry data rather than a fixed route shape.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	kindOverride := ""
	if rest, ok := s.stripKindPrefix(path); ok {
		kindOverride = rest.kind
		path = rest.path
	}

	switch {
	case r.Method == http.MethodGet && path == "/metrics":
		s.handleMetrics(w, r)
	case r.Method == http.MethodGet && path == "/healthz":
		s.handleHealthz(w, r)
	case r.Method == http.MethodGet && path == "/v1/models":
		s.handleListModels(w, r, kindOverride, false)
	case r.Method == http.MethodPost && path == "/v1/chat/completions":
		s.handleOpenAIChat(w, r, kindOverride)
	case r.Method == http.MethodPost && path == "/v1/responses":
		s.handleOpenAIResponses(w, r, kindOverride)
	case r.Method == http.MethodPost && path == "/v1/messages":
		s.handleAnthropicMessages(w, r, kindOverride)
	case r.Method == http.MethodGet && path == "/v1beta/models":
		s.handleListModels(w, r, kindOverride, true)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1beta/models/"):
		s.handleGeminiGenerate(w, r, kindOverride, strings.TrimPrefix(path, "/v1beta/models/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v1beta/models/"):
		s.handleGeminiGetModel(w, r, kindOverride, strings.TrimPrefix(path, "/v1beta/models/"))
	case r.Method == http.MethodGet && path == "/api/tags":
		s.handleOllamaTags(w, r, kindOverride)
	case r.Method == http.MethodPost && path == "/api/show":
		s.handleOllamaShow(w, r, kindOverride)
	case r.Method == http.MethodPost && path == "/api/chat":
		s.handleOllamaChat(w, r, kindOverride)
	case r.Method == http.MethodPost && path == "/api/generate":
		s.handleOllamaGenerate(w, r, kindOverride)
	default:
		httpResponseJSON(w, map[string]any{"error": map[string]any{"message": "not found", "type": "invalid_request_error"}}, http.StatusNotFound)
	}
}

type kindPrefixMatch struct {
	kind string
	path string
}

// stripKindPrefix recognizes "/<kind>/v1/..." style paths, where <kind> is
// the exact kind string of a configured pool entry (spec.md §6:
// "/claude-kiro-oauth/v1/messages"). Any other first segment is left
// alone and treated as part of the default-kind route table.
func (s *Server) stripKindPrefix(path string) (kindPrefixMatch, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	seg, rest, found := strings.Cut(trimmed, "/")
	if !found || seg == "" {
		return kindPrefixMatch{}, false
	}
	if !s.pool.HasKind(seg) {
		return kindPrefixMatch{}, false
	}
	return kindPrefixMatch{kind: seg, path: "/" + rest}, true
}

func (s *Server) Start(ctx context.Context, host, port string) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(host, port))
}

func defaultKindFor(cfg config.Gateway) string {
	if cfg.ModelProvider == "" {
		return "openai-custom"
	}
	return cfg.ModelProvider
}
