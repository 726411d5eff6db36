package convert

import (
	"encoding/json"
	"fmt"

	"github.com/relaygate/gateway/internal/protocol"
)

// Anthropic Messages wire types.

type AnthropicRequest struct {
	Model      string             `json:"model"`
	System     json.RawMessage    `json:"system,omitempty"`
	Messages   []AnthropicMessage `json:"messages"`
	Tools      []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice *AnthropicToolChoice `json:"tool_choice,omitempty"`
	MaxTokens  int                `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP       *float64           `json:"top_p,omitempty"`
	TopK       *int               `json:"top_k,omitempty"`
	Stream     bool               `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Thinking   *AnthropicThinking `json:"thinking,omitempty"`
}

type AnthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type AnthropicBlock struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Source     *AnthropicImageSource `json:"source,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type AnthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Content    []AnthropicBlock `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

func ToCanonicalAnthropic(req *AnthropicRequest) (*protocol.Request, error) {
	out := &protocol.Request{Model: req.Model, Stream: req.Stream}

	if sys := anthropicSystemToText(req.System); sys != "" {
		out.Messages = append(out.Messages, protocol.Message{Role: protocol.RoleSystem, Parts: []protocol.ContentPart{protocol.Text(sys)}})
	}

	for _, m := range req.Messages {
		blocks, err := decodeAnthropicContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("anthropic message content: %w", err)
		}
		out.Messages = append(out.Messages, anthropicBlocksToMessages(protocol.Role(m.Role), blocks)...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, protocol.ToolDef{Name: t.Name, Description: t.Description, JSONSchema: t.InputSchema})
	}
	out.ToolChoice = toolChoiceFromAnthropic(req.ToolChoice)

	out.Sampling = protocol.Sampling{Temperature: req.Temperature, TopP: req.TopP, TopK: req.TopK, MaxOutputTokens: &req.MaxTokens, Stop: req.StopSequences}

	return out, nil
}

// anthropicBlocksToMessages explodes one Anthropic message (whose content
// may mix text, tool_use, and tool_result blocks) into one or more
// canonical messages, since tool_result in Anthropic lives inside a "user"
// message while the canonical model gives it its own RoleTool message.
func anthropicBlocksToMessages(role protocol.Role, blocks []AnthropicBlock) []protocol.Message {
	var out []protocol.Message
	var cur protocol.Message
	cur.Role = role
	flush := func() {
		if len(cur.Parts) > 0 || len(cur.ToolCalls) > 0 {
			out = append(out, cur)
		}
		cur = protocol.Message{Role: role}
	}

	for _, b := range blocks {
		switch b.Type {
		case "text":
			cur.Parts = append(cur.Parts, protocol.Text(b.Text))
		case "thinking":
			cur.Parts = append(cur.Parts, protocol.Thinking(b.Text))
		case "tool_use":
			argsJSON, _ := json.Marshal(b.Input)
			cur.ToolCalls = append(cur.ToolCalls, protocol.ToolCall{ID: b.ID, Name: b.Name, ArgumentsJSON: string(argsJSON)})
		case "tool_result":
			flush()
			out = append(out, protocol.Message{
				Role: protocol.RoleTool, ToolCallID: b.ToolUseID,
				Parts: []protocol.ContentPart{{Kind: protocol.PartToolResult, ToolUseID: b.ToolUseID, ToolResult: rawContentString(b.Content)}},
			})
		case "image":
			if b.Source != nil {
				if b.Source.Type == "base64" {
					data, _ := base64Decode(b.Source.Data)
					cur.Parts = append(cur.Parts, protocol.InlineImage(b.Source.MediaType, data))
				} else if b.Source.URL != "" {
					cur.Parts = append(cur.Parts, protocol.ImageURI(b.Source.URL))
				}
			}
		}
	}
	flush()
	return out
}

func decodeAnthropicContent(raw json.RawMessage) ([]AnthropicBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []AnthropicBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []AnthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func anthropicSystemToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []AnthropicBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var out string
		for i, b := range blocks {
			if i > 0 {
				out += "\n"
			}
			out += b.Text
		}
		return out
	}
	return ""
}

func toolChoiceFromAnthropic(tc *AnthropicToolChoice) *protocol.ToolChoice {
	if tc == nil {
		return nil
	}
	switch tc.Type {
	case "auto":
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceAuto}
	case "any":
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceRequired}
	case "tool":
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceNamed, Name: tc.Name}
	default:
		return nil
	}
}

func toolChoiceToAnthropic(tc *protocol.ToolChoice) *AnthropicToolChoice {
	if tc == nil {
		return nil
	}
	switch tc.Kind {
	case protocol.ToolChoiceAuto:
		return &AnthropicToolChoice{Type: "auto"}
	case protocol.ToolChoiceRequired:
		return &AnthropicToolChoice{Type: "any"}
	case protocol.ToolChoiceNamed:
		return &AnthropicToolChoice{Type: "tool", Name: tc.Name}
	default:
		return nil
	}
}

// FromCanonicalAnthropic converts the canonical tree into an Anthropic
// Messages request. System-role messages are pulled out to the top-level
// `system` field; when none are present but the target requires one and
// the first user message carries plain text, that text is NOT duplicated
// as system (spec §4.B only asks for synthesis in the other direction,
// target-has-no-slot); Anthropic always has a system slot so this path is
// simply "may be absent."
func FromCanonicalAnthropic(req *protocol.Request) *AnthropicRequest {
	out := &AnthropicRequest{Model: req.Model, Stream: req.Stream}

	var systemParts []string
	var rest []protocol.Message
	for _, m := range req.Messages {
		if m.Role == protocol.RoleSystem {
			systemParts = append(systemParts, onlyText(m))
			continue
		}
		rest = append(rest, m)
	}
	if len(systemParts) > 0 {
		b, _ := json.Marshal(joinStrings(systemParts, "\n"))
		out.System = b
	}

	rest = MergeAdjacent(rest)
	out.Messages = anthropicMessagesFromCanonical(rest)

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, AnthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.JSONSchema})
	}
	out.ToolChoice = toolChoiceToAnthropic(req.ToolChoice)

	out.Temperature = req.Sampling.Temperature
	out.TopP = req.Sampling.TopP
	out.TopK = req.Sampling.TopK
	out.StopSequences = req.Sampling.Stop
	if req.Sampling.MaxOutputTokens != nil {
		out.MaxTokens = *req.Sampling.MaxOutputTokens
	} else {
		out.MaxTokens = 8192 // Anthropic requires max_tokens explicitly; generic default per spec §4.B.
	}

	return out
}

// anthropicMessagesFromCanonical merges a RoleTool message into the
// preceding user message's content blocks where possible (Anthropic
// expects tool_result blocks inside a user-role message), matching how
// the upstream gateway this was distilled from folds tool results back.
func anthropicMessagesFromCanonical(msgs []protocol.Message) []AnthropicMessage {
	var out []AnthropicMessage
	for _, m := range msgs {
		if m.Role == protocol.RoleTool {
			block := AnthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID}
			for _, p := range m.Parts {
				if p.Kind == protocol.PartToolResult {
					block.Content, _ = json.Marshal(p.ToolResult)
				}
			}
			if n := len(out); n > 0 && out[n-1].Role == "user" {
				var existing []AnthropicBlock
				json.Unmarshal(out[n-1].Content, &existing)
				existing = append(existing, block)
				out[n-1].Content, _ = json.Marshal(existing)
				continue
			}
			b, _ := json.Marshal([]AnthropicBlock{block})
			out = append(out, AnthropicMessage{Role: "user", Content: b})
			continue
		}

		blocks := anthropicBlocksFromCanonical(m)
		b, _ := json.Marshal(blocks)
		out = append(out, AnthropicMessage{Role: string(m.Role), Content: b})
	}
	return out
}

func anthropicBlocksFromCanonical(m protocol.Message) []AnthropicBlock {
	var blocks []AnthropicBlock
	for _, p := range m.Parts {
		switch p.Kind {
		case protocol.PartText:
			blocks = append(blocks, AnthropicBlock{Type: "text", Text: p.Text})
		case protocol.PartThinking:
			blocks = append(blocks, AnthropicBlock{Type: "thinking", Text: p.Text})
		case protocol.PartInlineImage:
			blocks = append(blocks, AnthropicBlock{Type: "image", Source: &AnthropicImageSource{Type: "base64", MediaType: p.MediaType, Data: base64StdEncode(p.Bytes)}})
		case protocol.PartImageURI:
			if mt, data, ok := parseDataURL(p.URI); ok {
				blocks = append(blocks, AnthropicBlock{Type: "image", Source: &AnthropicImageSource{Type: "base64", MediaType: mt, Data: base64StdEncode(data)}})
			} else {
				// Anthropic does not accept remote image URLs; fall back
				// to a text annotation per spec §4.B.
				blocks = append(blocks, AnthropicBlock{Type: "text", Text: fmt.Sprintf("[Image: %s]", p.URI)})
			}
		case protocol.PartAudioRef:
			blocks = append(blocks, AnthropicBlock{Type: "text", Text: fmt.Sprintf("[Audio: %s]", p.URI)})
		}
	}
	for _, tc := range m.ToolCalls {
		var input map[string]any
		json.Unmarshal([]byte(tc.ArgumentsJSON), &input)
		blocks = append(blocks, AnthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	return blocks
}

func ToCanonicalAnthropicResponse(resp *AnthropicResponse) *protocol.Response {
	out := &protocol.Response{ID: resp.ID, Model: resp.Model, FinishReason: FinishFromAnthropic(resp.StopReason), Usage: usageFromAnthropic(resp.Usage)}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			out.Parts = append(out.Parts, protocol.Text(b.Text))
		case "thinking":
			out.Parts = append(out.Parts, protocol.Thinking(b.Text))
		case "tool_use":
			argsJSON, _ := json.Marshal(b.Input)
			out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{ID: b.ID, Name: b.Name, ArgumentsJSON: string(argsJSON)})
		}
	}
	return out
}

func FromCanonicalAnthropicResponse(resp *protocol.Response) *AnthropicResponse {
	out := &AnthropicResponse{ID: resp.ID, Type: "message", Role: "assistant", Model: resp.Model, StopReason: FinishToAnthropic(resp.FinishReason), Usage: usageToAnthropic(resp.Usage)}
	for _, p := range resp.Parts {
		switch p.Kind {
		case protocol.PartText:
			out.Content = append(out.Content, AnthropicBlock{Type: "text", Text: p.Text})
		case protocol.PartThinking:
			out.Content = append(out.Content, AnthropicBlock{Type: "thinking", Text: p.Text})
		}
	}
	for _, tc := range resp.ToolCalls {
		var input map[string]any
		json.Unmarshal([]byte(tc.ArgumentsJSON), &input)
		out.Content = append(out.Content, AnthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
	}
	return out
}

func joinStrings(ss []string, sep string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}

func base64Decode(s string) ([]byte, error) {
	_, data, ok := parseDataURL("data:x;base64," + s)
	if !ok {
		return nil, fmt.Errorf("invalid base64")
	}
	return data, nil
}
