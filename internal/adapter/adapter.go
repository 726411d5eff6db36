// Package adapter speaks the upstream side of each provider kind family:
// it sends a canonical request already rendered into that family's wire
// dialect and hands back either a complete response body or a channel of
// raw SSE/NDJSON lines for the streamstate readers to normalize.
package adapter

import (
	"context"
	"net/http"

	"github.com/relaygate/gateway/internal/gwerror"
)

// Line is one raw upstream stream line (the payload after any "data: "
// prefix has been stripped) together with the error that ended the
// stream, if any. A Line with Err set is always the last value sent on
// the channel.
type Line struct {
	Data []byte
	Err  error
}

// Adapter is the uniform surface every kind family (openai, anthropic,
// gemini, ollama) implements, mirroring the teacher's per-provider
// Chat/ChatStream split generalized to protocol-agnostic byte bodies
// since conversion into/out of the wire dialect happens one layer up in
// internal/convert.
type Adapter interface {
	// ListModels returns the provider's model catalogue as the raw upstream
	// response body; the caller extracts the model ids from it.
	ListModels(ctx context.Context) ([]byte, error)

	// GenerateContent sends reqBody (already in the upstream's wire
	// dialect) and returns the complete non-streaming response body.
	GenerateContent(ctx context.Context, path string, reqBody []byte) ([]byte, http.Header, error)

	// GenerateContentStream sends reqBody and returns a channel of raw
	// upstream lines. The channel is closed after the final Line, which
	// always carries a non-nil Err: io.EOF for a clean end-of-stream.
	GenerateContentStream(ctx context.Context, path string, reqBody []byte) (<-chan Line, http.Header, error)
}

// Credentials bundles what an Adapter needs to authenticate a request.
// Exactly one of APIKey or TokenSource is set for a given provider entry.
type Credentials struct {
	APIKey      string
	TokenSource TokenSource
}

func (c Credentials) bearer(ctx context.Context) (string, error) {
	if c.TokenSource != nil {
		return c.TokenSource.Token(ctx)
	}
	return c.APIKey, nil
}

func upstreamErrorFor(status int, body []byte) *gwerror.UpstreamError {
	return &gwerror.UpstreamError{Status: status, Message: string(body), UpstreamBody: string(body)}
}
