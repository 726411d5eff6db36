package adapter

import (
	"context"
	"errors"
	"net/http"
)

var errOllamaNotAnUpstream = errors.New("ollama is a client-facing dialect only; no upstream adapter exists for it")

// OllamaPassthrough exists only to satisfy the Adapter interface for the
// "ollama" kind family. Ollama is a client-facing dialect only in this
// gateway (spec.md §4.B): requests are converted in internal/convert into
// whichever real upstream dialect the selected provider pool entry speaks
// (openai, anthropic, or gemini) before ever reaching the adapter layer, so
// there is nothing upstream for an "Ollama adapter" to talk to. A pool
// entry misconfigured with kind "ollama" fails here with a clear error
// instead of a nil-pointer panic deeper in the request path.
type OllamaPassthrough struct{}

func (OllamaPassthrough) ListModels(ctx context.Context) ([]byte, error) {
	return nil, errOllamaNotAnUpstream
}

func (OllamaPassthrough) GenerateContent(ctx context.Context, path string, reqBody []byte) ([]byte, http.Header, error) {
	return nil, nil, errOllamaNotAnUpstream
}

func (OllamaPassthrough) GenerateContentStream(ctx context.Context, path string, reqBody []byte) (<-chan Line, http.Header, error) {
	return nil, nil, errOllamaNotAnUpstream
}
