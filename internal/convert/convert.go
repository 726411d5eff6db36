// Package convert implements the protocol translation matrix: one
// converter per source dialect, each able to produce a request, response,
// or model list in any other dialect by pivoting through the canonical
// tree in internal/protocol. Streaming chunks are intentionally NOT
// pivoted through the canonical tree (see internal/streamstate) — per
// spec §4.C the upstream protocol's event framing does not commute with a
// canonical buffer.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/gateway/internal/protocol"
)

// RequestBetween converts a request body of dialect `from`, still encoded
// as JSON, into the wire shape of dialect `to`. model is required for
// Gemini source bodies, which carry the model in the URL rather than the
// body.
func RequestBetween(from, to protocol.Tag, body []byte, model string) ([]byte, *protocol.Request, error) {
	canonical, err := toCanonicalRequest(from, body, model)
	if err != nil {
		return nil, nil, fmt.Errorf("convert: decode %s request: %w", from, err)
	}

	if from == to {
		return body, canonical, nil
	}

	out, err := fromCanonicalRequest(to, canonical)
	return out, canonical, err
}

func toCanonicalRequest(from protocol.Tag, body []byte, model string) (*protocol.Request, error) {
	switch from {
	case protocol.OpenAIChat:
		var req ChatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		return ToCanonicalOpenAI(&req)
	case protocol.OpenAIResponses:
		var req ResponsesRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		return ToCanonicalResponses(&req)
	case protocol.Anthropic:
		var req AnthropicRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		return ToCanonicalAnthropic(&req)
	case protocol.Gemini:
		var req GeminiRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		return ToCanonicalGemini(&req, model)
	case protocol.Ollama:
		var req OllamaChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		return ToCanonicalOllamaChat(&req), nil
	default:
		return nil, fmt.Errorf("unknown source protocol %q", from)
	}
}

// FromCanonicalRequest renders an already-decoded (and possibly
// gateway-mutated, e.g. system-prompt-injected) canonical request into
// dialect to's wire shape. Exposed alongside RequestBetween for callers
// that need to mutate the canonical tree between decode and re-encode.
func FromCanonicalRequest(to protocol.Tag, req *protocol.Request) ([]byte, error) {
	return fromCanonicalRequest(to, req)
}

func fromCanonicalRequest(to protocol.Tag, req *protocol.Request) ([]byte, error) {
	switch to {
	case protocol.OpenAIChat:
		return json.Marshal(FromCanonicalOpenAI(req))
	case protocol.OpenAIResponses:
		return json.Marshal(FromCanonicalResponses(req))
	case protocol.Anthropic:
		return json.Marshal(FromCanonicalAnthropic(req))
	case protocol.Gemini:
		return json.Marshal(FromCanonicalGemini(req))
	default:
		return nil, fmt.Errorf("%s is not a valid upstream dispatch target", to)
	}
}

// ResponseBetween converts a non-streaming response body of dialect `from`
// into the wire shape of dialect `to`.
func ResponseBetween(from, to protocol.Tag, body []byte, model string) ([]byte, error) {
	canonical, err := toCanonicalResponse(from, body, model)
	if err != nil {
		return nil, fmt.Errorf("convert: decode %s response: %w", from, err)
	}

	return fromCanonicalResponse(to, canonical)
}

// ToCanonicalResponse decodes a non-streaming response body of dialect
// from into the canonical tree, exposed so callers can inspect/cache
// fields (e.g. tool-call thought signatures) between decode and re-encode.
func ToCanonicalResponse(from protocol.Tag, body []byte, model string) (*protocol.Response, error) {
	return toCanonicalResponse(from, body, model)
}

// FromCanonicalResponse renders an already-decoded canonical response into
// dialect to's wire shape.
func FromCanonicalResponse(to protocol.Tag, resp *protocol.Response) ([]byte, error) {
	return fromCanonicalResponse(to, resp)
}

func toCanonicalResponse(from protocol.Tag, body []byte, model string) (*protocol.Response, error) {
	switch from {
	case protocol.OpenAIChat:
		var resp ChatCompletionResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		return ToCanonicalOpenAIResponse(&resp), nil
	case protocol.OpenAIResponses:
		var resp ResponsesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		return ToCanonicalResponsesResponse(&resp), nil
	case protocol.Anthropic:
		var resp AnthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		return ToCanonicalAnthropicResponse(&resp), nil
	case protocol.Gemini:
		var resp GeminiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		return ToCanonicalGeminiResponse(&resp, model), nil
	default:
		return nil, fmt.Errorf("unknown source protocol %q", from)
	}
}

func fromCanonicalResponse(to protocol.Tag, resp *protocol.Response) ([]byte, error) {
	switch to {
	case protocol.OpenAIChat:
		return json.Marshal(FromCanonicalOpenAIResponse(resp))
	case protocol.OpenAIResponses:
		return json.Marshal(FromCanonicalResponsesResponse(resp))
	case protocol.Anthropic:
		return json.Marshal(FromCanonicalAnthropicResponse(resp))
	case protocol.Gemini:
		return json.Marshal(FromCanonicalGeminiResponse(resp))
	case protocol.Ollama:
		return json.Marshal(FromCanonicalResponseToOllamaChat(resp, resp.Model))
	default:
		return nil, fmt.Errorf("unknown target protocol %q", to)
	}
}
