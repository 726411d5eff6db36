// Package gwerror holds the error-kind enum and per-dialect error envelope
// renderers described in the gateway's error handling design.
package gwerror

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/gateway/internal/protocol"
)

// Kind is the gateway-internal error classification, independent of which
// client dialect will eventually render it.
type Kind string

const (
	BadRequest         Kind = "bad_request"
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	NotFound           Kind = "not_found"
	RateLimited        Kind = "rate_limited"
	UpstreamTimeout    Kind = "upstream_timeout"
	UpstreamServer     Kind = "upstream_server_error"
	ProtocolMismatch   Kind = "protocol_mismatch"
	NoHealthyProvider  Kind = "no_healthy_provider"
	Internal           Kind = "internal"
)

// Error is the gateway-wide error type. Status is the HTTP status the
// orchestrator will respond with; it is independent of any upstream status
// code (UpstreamError.Status carries that one).
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Retryable marks errors the orchestrator may retry once by
	// re-selecting a provider entry (see internal/gateway retry policy).
	Retryable bool
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func New(kind Kind, status int, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

func Retryable(kind Kind, status int, format string, args ...any) *Error {
	e := New(kind, status, format, args...)
	e.Retryable = true
	return e
}

// UpstreamError is what a provider adapter returns when the upstream HTTP
// call did not succeed. The orchestrator maps it to a Kind based on Status.
type UpstreamError struct {
	Status      int
	Code        string
	Message     string
	UpstreamBody string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d (%s): %s", e.Status, e.Code, e.Message)
}

// KindOf classifies an upstream HTTP status into a gateway Kind, per §7.
func KindOf(status int) Kind {
	switch {
	case status == 400:
		return BadRequest
	case status == 401:
		return Unauthorized
	case status == 403:
		return Forbidden
	case status == 404:
		return NotFound
	case status == 429:
		return RateLimited
	case status == 408:
		return UpstreamTimeout
	case status >= 500:
		return UpstreamServer
	default:
		return Internal
	}
}

// FromUpstream converts an UpstreamError into a gateway Error, marking
// timeouts and 5xx as retryable per the orchestrator's recovery policy.
func FromUpstream(u *UpstreamError) *Error {
	kind := KindOf(u.Status)
	e := New(kind, httpStatusFor(kind), "%s", u.Message)
	e.Retryable = kind == UpstreamTimeout || kind == UpstreamServer
	return e
}

func httpStatusFor(k Kind) int {
	switch k {
	case BadRequest, ProtocolMismatch:
		return 400
	case Unauthorized:
		return 401
	case Forbidden:
		return 403
	case NotFound:
		return 404
	case RateLimited:
		return 429
	case UpstreamTimeout:
		return 504
	case UpstreamServer, NoHealthyProvider, Internal:
		return 502
	default:
		return 500
	}
}

// openAIErrorType maps a Kind to the OpenAI/OpenAI-Responses `type` field.
func openAIErrorType(k Kind) string {
	switch k {
	case Unauthorized:
		return "authentication_error"
	case Forbidden:
		return "permission_error"
	case RateLimited:
		return "rate_limit_error"
	case UpstreamServer, NoHealthyProvider, Internal, UpstreamTimeout:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}

// geminiStatus maps a Kind to the Gemini `status` enum.
func geminiStatus(k Kind) string {
	switch k {
	case BadRequest, ProtocolMismatch:
		return "INVALID_ARGUMENT"
	case Unauthorized:
		return "UNAUTHENTICATED"
	case Forbidden:
		return "PERMISSION_DENIED"
	case NotFound:
		return "NOT_FOUND"
	case RateLimited:
		return "RESOURCE_EXHAUSTED"
	case UpstreamServer, NoHealthyProvider, Internal, UpstreamTimeout:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Envelope renders e in the wire shape dialect expects.
func Envelope(e *Error, dialect protocol.Tag) []byte {
	switch dialect {
	case protocol.Anthropic:
		body, _ := json.Marshal(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    anthropicErrorType(e.Kind),
				"message": e.Message,
			},
		})
		return body
	case protocol.Gemini:
		body, _ := json.Marshal(map[string]any{
			"error": map[string]any{
				"code":    e.Status,
				"message": e.Message,
				"status":  geminiStatus(e.Kind),
			},
		})
		return body
	default: // openai_chat, openai_responses, ollama
		body, _ := json.Marshal(map[string]any{
			"error": map[string]any{
				"message": e.Message,
				"type":    openAIErrorType(e.Kind),
				"code":    string(e.Kind),
			},
		})
		return body
	}
}

func anthropicErrorType(k Kind) string {
	switch k {
	case Unauthorized:
		return "authentication_error"
	case Forbidden:
		return "permission_error"
	case RateLimited:
		return "rate_limit_error"
	case NotFound:
		return "not_found_error"
	case BadRequest, ProtocolMismatch:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}
