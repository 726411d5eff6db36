package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaygate/gateway/internal/adapter"
	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/gwerror"
	"github.com/relaygate/gateway/internal/modelname"
	"github.com/relaygate/gateway/internal/pool"
	"github.com/relaygate/gateway/internal/protocol"
)

// maxBodyBytes bounds a client request body, spec.md §4.F step 1.
const maxBodyBytes = 8 << 20

// turn bundles the per-request state every handler needs to carry through
// the shared orchestration steps (spec.md §4.F's 8-step algorithm): the
// client's own dialect, the resolved pool kind/model, and the auth token
// that scoped it.
type turn struct {
	clientDialect protocol.Tag
	kind          string
	model         string // stripped of display prefix
	tok           *config.AuthTokenConfig
}

// resolveTurn runs spec.md §4.F steps 1-3 common to every handler: strip
// the display prefix / apply the kind override, authenticate, and enforce
// per-token scoping.
func (s *Server) resolveTurn(r *http.Request, clientDialect protocol.Tag, rawModel, pathKindOverride string) (*turn, *gwerror.Error) {
	tok, authErr := s.authenticate(r)
	if authErr != "" {
		return nil, gwerror.New(gwerror.Unauthorized, 401, "%s", authErr)
	}

	kind, model := modelname.Resolve(rawModel, defaultKindFor(s.cfg))
	if pathKindOverride != "" {
		kind = pathKindOverride
	}

	if !tokenAllowsKind(tok, kind) {
		return nil, gwerror.New(gwerror.Forbidden, 403, "token does not have access to provider %q", kind)
	}
	if !tokenAllowsModel(tok, model) {
		return nil, gwerror.New(gwerror.Forbidden, 403, "token does not have access to model %q", model)
	}

	return &turn{clientDialect: clientDialect, kind: kind, model: model, tok: tok}, nil
}

// dispatchResult is what a single adapter attempt produced.
type dispatchResult struct {
	entry      *pool.Entry
	a          adapter.Adapter
	upstreamOp protocol.Tag
}

// selectProvider runs pool selection (§4.F step 3), returning the entry,
// its adapter, and the upstream protocol it speaks.
func (s *Server) selectProvider(t *turn) (*dispatchResult, *gwerror.Error) {
	entry, a, err := s.pool.Select(t.kind, t.model)
	if err != nil {
		var gerr *gwerror.Error
		if errors.As(err, &gerr) {
			return nil, gerr
		}
		return nil, gwerror.New(gwerror.Internal, 500, "%s", err.Error())
	}
	return &dispatchResult{entry: entry, a: a, upstreamOp: protocol.TagOf(t.kind)}, nil
}

// convertRequestBody runs §4.F step 4: if the client dialect differs from the
// entry's upstream dialect, pivot the request body through the canonical
// tree. Returns the body to actually send upstream.
func convertRequestBody(clientDialect, upstreamDialect protocol.Tag, body []byte, model string) ([]byte, error) {
	if clientDialect == upstreamDialect {
		return body, nil
	}
	out, _, err := convert.RequestBetween(clientDialect, upstreamDialect, body, model)
	return out, err
}

// logOutboundPrompt runs §4.F step 6: it writes the request body about to
// be sent upstream, already in the upstream dialect, to the prompt log when
// one is configured. System-prompt injection (step 5) happens earlier, on
// the canonical request, in runGenerate via applySystemPrompt.
func (s *Server) logOutboundPrompt(kind, model string, body []byte) {
	if s.promptLog == nil {
		return
	}
	s.promptLog.log(kind, model, "request", body)
}

func (s *Server) logInboundResponse(kind, model string, body []byte) {
	if s.promptLog == nil {
		return
	}
	s.promptLog.log(kind, model, "response", body)
}

// recordOutcome updates the pool and metrics core for one attempt,
// fire-and-forget: on failure it marks the pool entry unhealthy (§7) and
// counts an error; on success it records the request's latency/tokens.
func (s *Server) recordOutcome(kind string, entry *pool.Entry, model string, usage protocol.Usage, latency time.Duration, err error) {
	if err != nil {
		s.pool.MarkUnhealthy(kind, entry.UUID, err.Error())
		s.metrics.IncError()
		return
	}
	s.metrics.RecordRequest(kind, model, usage.InputTokens, usage.OutputTokens, latency)
}

// requestContext applies the per-request wall-clock timeout (spec.md §5:
// "per-request default 600s wall clock").
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 600*time.Second)
}

// retryDelay is the backoff for §4.F's recovery posture: RequestBaseDelay
// doubled once per prior attempt, capped at 30s. The callers in generate.go
// re-select on a retryable upstream error (which naturally skips the
// just-marked-unhealthy entry once its error count crosses the threshold)
// and retry up to RequestMaxRetries times, sleeping retryDelay(attempt)
// between attempts.
func (s *Server) retryDelay(attempt int) time.Duration {
	d := s.cfg.RequestBaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, maxBodyBytes))
	body.Close()
}

func logAdapterError(kind, model string, err error) {
	slog.Error("adapter call failed", "kind", kind, "model", model, "error", err)
}
