package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaygate/gateway/internal/protocol"
)

// OpenAI Chat Completions wire types.

type OpenAIMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
	// ThoughtSignature is a non-standard field this gateway attaches so a
	// Gemini-backed tool call survives a round trip through a client that
	// otherwise strips unknown fields.
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []OpenAIMessage `json:"messages"`
	Tools          []OpenAITool    `json:"tools,omitempty"`
	ToolChoice     json.RawMessage `json:"tool_choice,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *StreamOptions  `json:"stream_options,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *ResponseFormatWire `json:"response_format,omitempty"`
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

type ResponseFormatWire struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type ChatCompletionResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ToCanonicalOpenAI converts an OpenAI Chat Completions request into the
// canonical tree.
func ToCanonicalOpenAI(req *ChatCompletionRequest) (*protocol.Request, error) {
	out := &protocol.Request{Model: req.Model, Stream: req.Stream}

	for _, m := range req.Messages {
		cm := protocol.Message{Role: protocol.Role(m.Role), ToolCallID: m.ToolCallID}

		if len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, protocol.ToolCall{
					ID: tc.ID, Name: tc.Function.Name, ArgumentsJSON: tc.Function.Arguments,
					ThoughtSignature: tc.ThoughtSignature,
				})
			}
		}

		parts, err := openAIContentToParts(m.Content)
		if err != nil {
			return nil, fmt.Errorf("openai message content: %w", err)
		}
		cm.Parts = parts

		if m.Role == "tool" {
			cm.Role = protocol.RoleTool
			cm.Parts = []protocol.ContentPart{{Kind: protocol.PartToolResult, ToolUseID: m.ToolCallID, ToolResult: rawContentString(m.Content)}}
		}

		out.Messages = append(out.Messages, cm)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, protocol.ToolDef{Name: t.Function.Name, Description: t.Function.Description, JSONSchema: t.Function.Parameters})
	}

	out.ToolChoice = toolChoiceFromOpenAI(req.ToolChoice)

	out.Sampling = protocol.Sampling{Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxTokens, Stop: req.Stop}

	if req.ResponseFormat != nil {
		out.ResponseFormat = responseFormatFromOpenAI(req.ResponseFormat)
	}

	return out, nil
}

// FromCanonicalOpenAI converts the canonical tree into an OpenAI Chat
// Completions request.
func FromCanonicalOpenAI(req *protocol.Request) *ChatCompletionRequest {
	out := &ChatCompletionRequest{Model: req.Model, Stream: req.Stream}

	msgs := MergeAdjacent(req.Messages)
	for _, m := range msgs {
		out.Messages = append(out.Messages, openAIMessageFromCanonical(m))
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, OpenAITool{Type: "function", Function: OpenAIFunction{Name: t.Name, Description: t.Description, Parameters: t.JSONSchema}})
	}

	out.ToolChoice = toolChoiceToOpenAI(req.ToolChoice)

	if req.Sampling.Temperature != nil {
		out.Temperature = req.Sampling.Temperature
	} else {
		def := 1.0
		out.Temperature = &def
	}
	if req.Sampling.TopP != nil {
		out.TopP = req.Sampling.TopP
	} else {
		def := 0.95
		out.TopP = &def
	}
	if req.Sampling.MaxOutputTokens != nil {
		out.MaxTokens = req.Sampling.MaxOutputTokens
	} else {
		def := 8192
		out.MaxTokens = &def
	}
	out.Stop = req.Sampling.Stop

	if req.ResponseFormat != nil {
		out.ResponseFormat = responseFormatToOpenAI(req.ResponseFormat)
	}

	return out
}

func openAIMessageFromCanonical(m protocol.Message) OpenAIMessage {
	out := OpenAIMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}

	if m.Role == protocol.RoleTool {
		for _, p := range m.Parts {
			if p.Kind == protocol.PartToolResult {
				out.Content, _ = json.Marshal(p.ToolResult)
				out.ToolCallID = p.ToolUseID
			}
		}
		return out
	}

	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, OpenAIToolCall{
			ID: tc.ID, Type: "function",
			Function:         OpenAIFunctionCall{Name: tc.Name, Arguments: tc.ArgumentsJSON},
			ThoughtSignature: tc.ThoughtSignature,
		})
	}

	if hasOnlyText(m.Parts) {
		out.Content, _ = json.Marshal(joinText(m.Parts))
		return out
	}

	if len(m.Parts) > 0 {
		var parts []map[string]any
		for _, p := range m.Parts {
			switch p.Kind {
			case protocol.PartText:
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			case protocol.PartInlineImage:
				url := fmt.Sprintf("data:%s;base64,%s", p.MediaType, b64(p.Bytes))
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
			case protocol.PartImageURI:
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": p.URI}})
			case protocol.PartAudioRef:
				parts = append(parts, map[string]any{"type": "text", "text": fmt.Sprintf("[Audio: %s]", p.URI)})
			case protocol.PartThinking:
				// OpenAI Chat has no first-class thinking block; carried
				// inline as tagged text per spec §4.B.
				parts = append(parts, map[string]any{"type": "text", "text": "<thinking>" + p.Text + "</thinking>"})
			}
		}
		out.Content, _ = json.Marshal(parts)
	}

	return out
}

func hasOnlyText(parts []protocol.ContentPart) bool {
	if len(parts) == 0 {
		return true
	}
	for _, p := range parts {
		if p.Kind != protocol.PartText {
			return false
		}
	}
	return true
}

func joinText(parts []protocol.ContentPart) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// openAIContentToParts parses the polymorphic OpenAI `content` field
// (bare string or an array of typed content parts) into canonical parts.
func openAIContentToParts(raw json.RawMessage) ([]protocol.ContentPart, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		return []protocol.ContentPart{protocol.Text(s)}, nil
	}

	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("unrecognized content shape: %w", err)
	}

	var parts []protocol.ContentPart
	for _, p := range arr {
		switch p["type"] {
		case "text":
			if t, _ := p["text"].(string); t != "" {
				parts = append(parts, protocol.Text(t))
			}
		case "image_url":
			iu, _ := p["image_url"].(map[string]any)
			url, _ := iu["url"].(string)
			if mt, data, ok := parseDataURL(url); ok {
				parts = append(parts, protocol.InlineImage(mt, data))
			} else {
				parts = append(parts, protocol.ImageURI(url))
			}
		case "input_audio":
			parts = append(parts, protocol.AudioRef("inline-audio"))
		}
	}
	return parts, nil
}

func rawContentString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func toolChoiceFromOpenAI(raw json.RawMessage) *protocol.ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch s {
		case "auto":
			return &protocol.ToolChoice{Kind: protocol.ToolChoiceAuto}
		case "none":
			return &protocol.ToolChoice{Kind: protocol.ToolChoiceNone}
		case "required":
			return &protocol.ToolChoice{Kind: protocol.ToolChoiceRequired}
		}
	}
	var named struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if json.Unmarshal(raw, &named) == nil && named.Type == "function" {
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceNamed, Name: named.Function.Name}
	}
	return nil
}

func toolChoiceToOpenAI(tc *protocol.ToolChoice) json.RawMessage {
	if tc == nil {
		return nil
	}
	switch tc.Kind {
	case protocol.ToolChoiceNamed:
		b, _ := json.Marshal(map[string]any{"type": "function", "function": map[string]any{"name": tc.Name}})
		return b
	default:
		b, _ := json.Marshal(string(tc.Kind))
		return b
	}
}

func responseFormatFromOpenAI(rf *ResponseFormatWire) *protocol.ResponseFormat {
	switch rf.Type {
	case "json_object":
		return &protocol.ResponseFormat{Kind: protocol.ResponseFormatJSON}
	case "json_schema":
		schema, _ := rf.JSONSchema["schema"].(map[string]any)
		return &protocol.ResponseFormat{Kind: protocol.ResponseFormatJSONSchema, Schema: schema}
	default:
		return &protocol.ResponseFormat{Kind: protocol.ResponseFormatText}
	}
}

func responseFormatToOpenAI(rf *protocol.ResponseFormat) *ResponseFormatWire {
	switch rf.Kind {
	case protocol.ResponseFormatJSON:
		return &ResponseFormatWire{Type: "json_object"}
	case protocol.ResponseFormatJSONSchema:
		return &ResponseFormatWire{Type: "json_schema", JSONSchema: map[string]any{"schema": rf.Schema}}
	default:
		return &ResponseFormatWire{Type: "text"}
	}
}

// ToCanonicalOpenAIResponse converts an OpenAI Chat Completions response
// into the canonical response.
func ToCanonicalOpenAIResponse(resp *ChatCompletionResponse) *protocol.Response {
	out := &protocol.Response{ID: resp.ID, Model: resp.Model, Usage: usageFromOpenAI(resp.Usage)}
	if len(resp.Choices) == 0 {
		return out
	}
	c := resp.Choices[0]
	out.FinishReason = FinishFromOpenAI(c.FinishReason)

	if text := rawContentString(c.Message.Content); text != "" {
		out.Parts = append(out.Parts, protocol.Text(text))
	}
	for _, tc := range c.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{ID: tc.ID, Name: tc.Function.Name, ArgumentsJSON: tc.Function.Arguments, ThoughtSignature: tc.ThoughtSignature})
	}
	return out
}

// FromCanonicalOpenAIResponse converts the canonical response into an
// OpenAI Chat Completions response.
func FromCanonicalOpenAIResponse(resp *protocol.Response) *ChatCompletionResponse {
	msg := OpenAIMessage{Role: "assistant"}
	var text strings.Builder
	for _, p := range resp.Parts {
		if p.Kind == protocol.PartText {
			text.WriteString(p.Text)
		}
	}
	if text.Len() > 0 {
		msg.Content, _ = json.Marshal(text.String())
	}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{ID: tc.ID, Type: "function", Function: OpenAIFunctionCall{Name: tc.Name, Arguments: tc.ArgumentsJSON}, ThoughtSignature: tc.ThoughtSignature})
	}

	return &ChatCompletionResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []OpenAIChoice{{
			Index: 0, Message: msg, FinishReason: FinishToOpenAI(resp.FinishReason),
		}},
		Usage: usageToOpenAI(resp.Usage),
	}
}

func b64(b []byte) string { return base64StdEncode(b) }
