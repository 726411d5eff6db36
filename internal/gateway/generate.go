package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/relaygate/gateway/internal/adapter"
	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/gwerror"
	"github.com/relaygate/gateway/internal/protocol"
	"github.com/relaygate/gateway/internal/streamstate"
)

// upstreamPath returns the REST path GenerateContent/GenerateContentStream
// should hit for dialect, given the already-stripped model name. Gemini
// alone carries the model in the URL rather than the body (spec.md §4.F
// step 1).
func upstreamPath(dialect protocol.Tag, model string, stream bool) string {
	switch dialect {
	case protocol.Anthropic:
		return "/v1/messages"
	case protocol.Gemini:
		if stream {
			return "/v1beta/models/" + model + ":streamGenerateContent?alt=sse"
		}
		return "/v1beta/models/" + model + ":generateContent"
	case protocol.OpenAIResponses:
		return "/responses"
	default: // openai_chat
		return "/chat/completions"
	}
}

// runGenerate implements spec.md §4.F steps 1-8 for every client dialect.
// body is the raw client request; clientDialect names the endpoint the
// client hit. ollamaGenerateShape only matters when clientDialect is
// protocol.Ollama: /api/generate renders {response, done, ...} instead of
// /api/chat's {message:{...}} (spec.md §4.B). streamOverride is non-nil
// only for Gemini, whose generateContent/streamGenerateContent choice
// lives in the URL rather than the body and so can't be recovered from
// the canonical decode.
func (s *Server) runGenerate(w http.ResponseWriter, r *http.Request, clientDialect protocol.Tag, body []byte, rawModel string, pathKindOverride string, ollamaGenerateShape bool, streamOverride ...bool) {
	t, gerr := s.resolveTurn(r, clientDialect, rawModel, pathKindOverride)
	if gerr != nil {
		writeGatewayError(w, clientDialect, gerr)
		return
	}

	_, canonical, err := convert.RequestBetween(clientDialect, clientDialect, body, t.model)
	if err != nil {
		writeGatewayError(w, clientDialect, gwerror.New(gwerror.BadRequest, 400, "decode request: %v", err))
		return
	}
	canonical.Model = t.model
	if len(streamOverride) > 0 {
		canonical.Stream = streamOverride[0]
	}

	if err := s.applySystemPrompt(canonical, t.kind); err != nil {
		writeGatewayError(w, clientDialect, gwerror.New(gwerror.Internal, 500, "render system prompt: %v", err))
		return
	}
	s.thoughtSigCache.restoreThoughtSignatures(canonical)

	ctx, cancel := requestContext(r)
	defer cancel()

	if canonical.Stream {
		s.runGenerateStream(ctx, w, clientDialect, t, canonical, ollamaGenerateShape)
		return
	}
	s.runGenerateUnary(ctx, w, clientDialect, t, canonical, ollamaGenerateShape)
}

// dispatchUnary selects a provider and attempts one unary call, returning
// whatever the adapter produced and enough bookkeeping for the caller to
// decide whether to retry.
func (s *Server) dispatchUnary(ctx context.Context, clientDialect protocol.Tag, t *turn, canonical *protocol.Request) (*dispatchResult, []byte, time.Duration, error, *gwerror.Error) {
	res, gerr := s.selectProvider(t)
	if gerr != nil {
		return nil, nil, 0, nil, gerr
	}

	upstreamBody, err := convert.FromCanonicalRequest(res.upstreamOp, canonical)
	if err != nil {
		return res, nil, 0, nil, gwerror.New(gwerror.Internal, 500, "encode upstream request: %v", err)
	}
	s.logOutboundPrompt(t.kind, t.model, upstreamBody)

	path := upstreamPath(res.upstreamOp, t.model, canonical.Stream)
	start := time.Now()
	respBody, _, callErr := res.a.GenerateContent(ctx, path, upstreamBody)
	return res, respBody, time.Since(start), callErr, nil
}

// runGenerateUnary implements §4.F step 7's unary path: call the adapter,
// retrying on a retryable upstream failure (RequestMaxRetries, exponential
// backoff per retryDelay), then convert the response into the client
// dialect if needed and write JSON.
func (s *Server) runGenerateUnary(ctx context.Context, w http.ResponseWriter, clientDialect protocol.Tag, t *turn, canonical *protocol.Request, ollamaGenerateShape bool) {
	maxAttempts := s.cfg.RequestMaxRetries + 1

	var (
		res        *dispatchResult
		respBody   []byte
		latency    time.Duration
		callErr    error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var gerr *gwerror.Error
		res, respBody, latency, callErr, gerr = s.dispatchUnary(ctx, clientDialect, t, canonical)
		if gerr != nil {
			writeGatewayError(w, clientDialect, gerr)
			return
		}
		if callErr == nil {
			break
		}
		logAdapterError(t.kind, t.model, callErr)
		s.recordOutcome(t.kind, res.entry, t.model, protocol.Usage{}, latency, callErr)
		ge := gwerror.FromUpstream(upstreamErrorFrom(callErr))
		if !ge.Retryable || attempt == maxAttempts-1 {
			writeGatewayError(w, clientDialect, ge)
			return
		}
		time.Sleep(s.retryDelay(attempt))
	}

	s.logInboundResponse(t.kind, t.model, respBody)

	clientBody, usage, err := convertResponseWithUsage(res.upstreamOp, clientDialect, respBody, t.model, s.thoughtSigCache, ollamaGenerateShape)
	if err != nil {
		s.recordOutcome(t.kind, res.entry, t.model, protocol.Usage{}, latency, err)
		writeGatewayError(w, clientDialect, gwerror.New(gwerror.Internal, 500, "convert response: %v", err))
		return
	}

	s.recordOutcome(t.kind, res.entry, t.model, usage, latency, nil)
	httpResponseJSONByte(w, clientBody, http.StatusOK)
}

// runGenerateStream implements §4.F step 7's streaming path. Retries are
// only attempted before the SSE headers are written and the first upstream
// line is read — once bytes have reached the client a failed stream can
// only be reported as a mid-stream error frame, not silently retried.
func (s *Server) runGenerateStream(ctx context.Context, w http.ResponseWriter, clientDialect protocol.Tag, t *turn, canonical *protocol.Request, ollamaGenerateShape bool) {
	maxAttempts := s.cfg.RequestMaxRetries + 1

	var (
		res     *dispatchResult
		lines   <-chan adapter.Line
		start   time.Time
		callErr error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var gerr *gwerror.Error
		res, gerr = s.selectProvider(t)
		if gerr != nil {
			writeGatewayError(w, clientDialect, gerr)
			return
		}

		upstreamBody, err := convert.FromCanonicalRequest(res.upstreamOp, canonical)
		if err != nil {
			writeGatewayError(w, clientDialect, gwerror.New(gwerror.Internal, 500, "encode upstream request: %v", err))
			return
		}
		s.logOutboundPrompt(t.kind, t.model, upstreamBody)

		path := upstreamPath(res.upstreamOp, t.model, true)
		start = time.Now()
		lines, _, callErr = res.a.GenerateContentStream(ctx, path, upstreamBody)
		if callErr == nil {
			break
		}

		logAdapterError(t.kind, t.model, callErr)
		s.recordOutcome(t.kind, res.entry, t.model, protocol.Usage{}, time.Since(start), callErr)
		ge := gwerror.FromUpstream(upstreamErrorFrom(callErr))
		if !ge.Retryable || attempt == maxAttempts-1 {
			writeGatewayError(w, clientDialect, ge)
			return
		}
		time.Sleep(s.retryDelay(attempt))
	}

	flusher, ok := sseHeaders(w, clientDialect)
	if !ok {
		writeGatewayError(w, clientDialect, gwerror.New(gwerror.Internal, 500, "streaming not supported by this response writer"))
		return
	}

	state := streamstate.New(t.model)
	read := readerFor(res.upstreamOp)
	tracked := &trackingWriter{inner: writerFor(clientDialect, state, true, ollamaGenerateShape), cache: s.thoughtSigCache}

	err := pumpStream(ctx, w, flusher, clientDialect, lines, read, tracked)
	latency := time.Since(start)
	if err != nil {
		s.recordOutcome(t.kind, res.entry, t.model, protocol.Usage{}, latency, err)
		writeFrame(w, flusher, clientDialect, errorFrame(clientDialect, err))
		return
	}
	s.recordOutcome(t.kind, res.entry, t.model, tracked.usage, latency, nil)
}

// convertResponseWithUsage converts a non-streaming upstream response body
// into the client dialect's wire shape, caching any thought signatures
// carried by its tool calls along the way, and returns the canonical
// usage record for metrics accounting. ollamaGenerateShape only matters
// when clientDialect is protocol.Ollama, selecting /api/generate's
// {response, done, ...} shape instead of /api/chat's {message:{...}}.
func convertResponseWithUsage(upstreamDialect, clientDialect protocol.Tag, body []byte, model string, cache *thoughtSignatureCache, ollamaGenerateShape bool) ([]byte, protocol.Usage, error) {
	canonical, err := convert.ToCanonicalResponse(upstreamDialect, body, model)
	if err != nil {
		return nil, protocol.Usage{}, err
	}
	cache.cacheFromResponse(canonical)

	if clientDialect == protocol.Ollama && ollamaGenerateShape {
		out, err := convert.FromCanonicalResponseOllamaGenerate(canonical)
		if err != nil {
			return nil, protocol.Usage{}, err
		}
		return out, canonical.Usage, nil
	}

	out, err := convert.FromCanonicalResponse(clientDialect, canonical)
	if err != nil {
		return nil, protocol.Usage{}, err
	}
	return out, canonical.Usage, nil
}

// upstreamErrorFrom recovers the *gwerror.UpstreamError an adapter wraps
// around a failed upstream HTTP call, falling back to a synthetic 502 for
// errors raised below the HTTP layer (transport failures, timeouts).
func upstreamErrorFrom(err error) *gwerror.UpstreamError {
	var uerr *gwerror.UpstreamError
	if errors.As(err, &uerr) {
		return uerr
	}
	return &gwerror.UpstreamError{Status: 502, Message: err.Error()}
}

// errorFrame renders err as a client-dialect SSE/NDJSON error frame for a
// stream that failed after its headers were written, whether before or
// after other frames reached the client.
func errorFrame(dialect protocol.Tag, err error) streamstate.Frame {
	body := gwerror.Envelope(gwerror.FromUpstream(upstreamErrorFrom(err)), dialect)
	if dialect == protocol.Anthropic {
		return streamstate.Frame{EventType: "error", Data: body}
	}
	return streamstate.Frame{Data: body, Terminal: true}
}

// trackingWriter decorates a streamWriter to capture the terminal usage
// record and cache any thought signatures seen on tool-call events, so
// the orchestrator can account metrics and restore signatures on a later
// turn without the writers themselves needing gateway-layer state.
type trackingWriter struct {
	inner streamWriter
	cache *thoughtSignatureCache
	usage protocol.Usage
}

func (t *trackingWriter) Write(ev streamstate.Event) []streamstate.Frame {
	switch ev.Kind {
	case streamstate.EventFinish:
		t.usage = ev.Usage
	case streamstate.EventToolCallOpen, streamstate.EventToolCallClose:
		t.cache.store(ev.ToolID, ev.ThoughtSignature)
	}
	return t.inner.Write(ev)
}
