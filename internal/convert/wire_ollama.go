package convert

import (
	"encoding/json"
	"strings"

	"github.com/relaygate/gateway/internal/protocol"
)

// Ollama conversion is one-way from {openai, anthropic, gemini} responses
// into Ollama's chat/generate envelopes (spec §4.B). The inverse direction
// (an Ollama-shaped client request arriving at /api/chat) is converted into
// the canonical tree so it can be dispatched to any upstream protocol.

type OllamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []OllamaChatMessage `json:"messages,omitempty"`
	Prompt   string              `json:"prompt,omitempty"`
	System   string              `json:"system,omitempty"`
	Stream   bool                `json:"stream,omitempty"`
	Options  OllamaOptions       `json:"options,omitempty"`
}

type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OllamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type OllamaChatResponse struct {
	Model           string            `json:"model"`
	Message         OllamaChatMessage `json:"message,omitempty"`
	Done            bool              `json:"done"`
	DoneReason      string            `json:"done_reason,omitempty"`
	PromptEvalCount int               `json:"prompt_eval_count,omitempty"`
	EvalCount       int               `json:"eval_count,omitempty"`
}

type OllamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// ToCanonicalOllamaChat converts an inbound Ollama /api/chat request.
func ToCanonicalOllamaChat(req *OllamaChatRequest) *protocol.Request {
	out := &protocol.Request{Model: req.Model, Stream: req.Stream}

	if req.System != "" {
		out.Messages = append(out.Messages, protocol.Message{Role: protocol.RoleSystem, Parts: []protocol.ContentPart{protocol.Text(req.System)}})
	}

	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			out.Messages = append(out.Messages, protocol.Message{Role: protocol.Role(m.Role), Parts: []protocol.ContentPart{protocol.Text(m.Content)}})
		}
	} else if req.Prompt != "" {
		out.Messages = append(out.Messages, protocol.Message{Role: protocol.RoleUser, Parts: []protocol.ContentPart{protocol.Text(req.Prompt)}})
	}

	out.Sampling = protocol.Sampling{
		Temperature:     req.Options.Temperature,
		TopP:            req.Options.TopP,
		TopK:            req.Options.TopK,
		MaxOutputTokens: req.Options.NumPredict,
		Stop:            req.Options.Stop,
	}
	return out
}

// FromCanonicalResponseToOllamaChat renders a canonical response as an
// Ollama /api/chat response.
func FromCanonicalResponseToOllamaChat(resp *protocol.Response, model string) *OllamaChatResponse {
	return &OllamaChatResponse{
		Model:           model,
		Message:         OllamaChatMessage{Role: "assistant", Content: joinTextParts(resp.Parts)},
		Done:            true,
		DoneReason:      ollamaDoneReason(resp.FinishReason),
		PromptEvalCount: resp.Usage.InputTokens,
		EvalCount:       resp.Usage.OutputTokens,
	}
}

// FromCanonicalResponseToOllamaGenerate renders a canonical response as an
// Ollama /api/generate response.
func FromCanonicalResponseToOllamaGenerate(resp *protocol.Response, model string) *OllamaGenerateResponse {
	return &OllamaGenerateResponse{
		Model:           model,
		Response:        joinTextParts(resp.Parts),
		Done:            true,
		DoneReason:      ollamaDoneReason(resp.FinishReason),
		PromptEvalCount: resp.Usage.InputTokens,
		EvalCount:       resp.Usage.OutputTokens,
	}
}

// FromCanonicalResponseOllamaGenerate renders a canonical response as JSON
// in the /api/generate shape ({response, done, ...}), as opposed to
// fromCanonicalResponse's default /api/chat shape ({message:{...}}).
func FromCanonicalResponseOllamaGenerate(resp *protocol.Response) ([]byte, error) {
	return json.Marshal(FromCanonicalResponseToOllamaGenerate(resp, resp.Model))
}

func ollamaDoneReason(f protocol.FinishReason) string {
	if f == protocol.FinishLength {
		return "length"
	}
	return "stop"
}

// OllamaTagModel is one entry of the /api/tags response.
type OllamaTagModel struct {
	Name   string `json:"name"`
	Model  string `json:"model"`
	Family string `json:"family"`
}

// ToOllamaTags renames the combined model list with the bracketed display
// prefix and labels family literally "Ollama" (capital O — some clients,
// e.g. GitHub Copilot, check this literal; do not normalize case, per
// spec §9).
func ToOllamaTags(displayNames []string) []OllamaTagModel {
	out := make([]OllamaTagModel, 0, len(displayNames))
	for _, name := range displayNames {
		out = append(out, OllamaTagModel{Name: name, Model: name, Family: "Ollama"})
	}
	return out
}

// numCtxBands gives a documented approximate context-window band per model
// family, keyed by a case-insensitive substring of the model id, used to
// synthesize a plausible /api/show modelfile.
var numCtxBands = []struct {
	substr   string
	numCtx   int
	numPredict int
}{
	{"claude-4", 200000, 8192},
	{"claude-3", 200000, 4096},
	{"gemini-2.5", 1048576, 65535},
	{"gemini-1.5", 1048576, 8192},
	{"gpt-4", 128000, 4096},
	{"o1", 200000, 100000},
	{"o3", 200000, 100000},
	{"qwen", 32768, 8192},
}

// NumCtxFor returns a plausible (numCtx, numPredict) pair for a model id,
// used to synthesize /api/show output; falls back to a generic band.
func NumCtxFor(modelID string) (numCtx, numPredict int) {
	lower := strings.ToLower(modelID)
	for _, band := range numCtxBands {
		if strings.Contains(lower, band.substr) {
			return band.numCtx, band.numPredict
		}
	}
	return 8192, 2048
}
