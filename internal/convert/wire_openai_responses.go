package convert

import (
	"encoding/json"

	"github.com/relaygate/gateway/internal/protocol"
)

// OpenAI Responses wire types. The Responses API represents a turn as a
// flat "input" array of typed items rather than Chat Completions' nested
// message/tool_calls shape.

type ResponsesRequest struct {
	Model        string              `json:"model"`
	Instructions string              `json:"instructions,omitempty"`
	Input        []ResponsesItem     `json:"input"`
	Tools        []ResponsesTool     `json:"tools,omitempty"`
	ToolChoice   json.RawMessage     `json:"tool_choice,omitempty"`
	Stream       bool                `json:"stream,omitempty"`
	Temperature  *float64            `json:"temperature,omitempty"`
	TopP         *float64            `json:"top_p,omitempty"`
	MaxOutputTokens *int             `json:"max_output_tokens,omitempty"`
}

// ResponsesItem is a tagged union over the Responses API's "input"/"output"
// item kinds this gateway supports: message, function_call, and
// function_call_output.
type ResponsesItem struct {
	Type      string              `json:"type"`
	Role      string              `json:"role,omitempty"`
	Content   []ResponsesContent  `json:"content,omitempty"`
	CallID    string              `json:"call_id,omitempty"`
	Name      string              `json:"name,omitempty"`
	Arguments string              `json:"arguments,omitempty"`
	Output    string              `json:"output,omitempty"`
}

type ResponsesContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ResponsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ResponsesResponse struct {
	ID     string          `json:"id"`
	Model  string          `json:"model"`
	Output []ResponsesItem `json:"output"`
	Usage  responsesUsage  `json:"usage"`
	Status string          `json:"status"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func ToCanonicalResponses(req *ResponsesRequest) (*protocol.Request, error) {
	out := &protocol.Request{Model: req.Model, Stream: req.Stream}

	if req.Instructions != "" {
		out.Messages = append(out.Messages, protocol.Message{Role: protocol.RoleSystem, Parts: []protocol.ContentPart{protocol.Text(req.Instructions)}})
	}

	for _, item := range req.Input {
		switch item.Type {
		case "message", "":
			msg := protocol.Message{Role: protocol.Role(item.Role)}
			for _, c := range item.Content {
				if c.Text != "" {
					msg.Parts = append(msg.Parts, protocol.Text(c.Text))
				}
			}
			out.Messages = append(out.Messages, msg)
		case "function_call":
			out.Messages = append(out.Messages, protocol.Message{
				Role:      protocol.RoleAssistant,
				ToolCalls: []protocol.ToolCall{{ID: item.CallID, Name: item.Name, ArgumentsJSON: item.Arguments}},
			})
		case "function_call_output":
			out.Messages = append(out.Messages, protocol.Message{
				Role: protocol.RoleTool, ToolCallID: item.CallID,
				Parts: []protocol.ContentPart{{Kind: protocol.PartToolResult, ToolUseID: item.CallID, ToolResult: item.Output}},
			})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, protocol.ToolDef{Name: t.Name, Description: t.Description, JSONSchema: t.Parameters})
	}
	out.ToolChoice = toolChoiceFromOpenAI(req.ToolChoice)
	out.Sampling = protocol.Sampling{Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxOutputTokens}

	return out, nil
}

func FromCanonicalResponses(req *protocol.Request) *ResponsesRequest {
	out := &ResponsesRequest{Model: req.Model, Stream: req.Stream}

	var rest []protocol.Message
	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == protocol.RoleSystem {
			systemParts = append(systemParts, onlyText(m))
			continue
		}
		rest = append(rest, m)
	}
	if len(systemParts) > 0 {
		out.Instructions = joinStrings(systemParts, "\n")
	}

	rest = MergeAdjacent(rest)
	for _, m := range rest {
		if m.Role == protocol.RoleTool {
			for _, p := range m.Parts {
				if p.Kind == protocol.PartToolResult {
					out.Input = append(out.Input, ResponsesItem{Type: "function_call_output", CallID: m.ToolCallID, Output: p.ToolResult})
				}
			}
			continue
		}
		for _, tc := range m.ToolCalls {
			out.Input = append(out.Input, ResponsesItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.ArgumentsJSON})
		}
		if text := joinText(m.Parts); text != "" || len(m.ToolCalls) == 0 {
			out.Input = append(out.Input, ResponsesItem{Type: "message", Role: string(m.Role), Content: []ResponsesContent{{Type: "input_text", Text: text}}})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ResponsesTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.JSONSchema})
	}
	out.ToolChoice = toolChoiceToOpenAI(req.ToolChoice)
	out.Temperature = req.Sampling.Temperature
	out.TopP = req.Sampling.TopP
	out.MaxOutputTokens = req.Sampling.MaxOutputTokens

	return out
}

func ToCanonicalResponsesResponse(resp *ResponsesResponse) *protocol.Response {
	out := &protocol.Response{ID: resp.ID, Model: resp.Model, FinishReason: protocol.FinishStop, Usage: protocol.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				out.Parts = append(out.Parts, protocol.Text(c.Text))
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{ID: item.CallID, Name: item.Name, ArgumentsJSON: item.Arguments})
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = protocol.FinishToolCall
	}
	return out
}

func FromCanonicalResponsesResponse(resp *protocol.Response) *ResponsesResponse {
	out := &ResponsesResponse{ID: resp.ID, Model: resp.Model, Status: "completed", Usage: responsesUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens}}
	if text := joinTextParts(resp.Parts); text != "" {
		out.Output = append(out.Output, ResponsesItem{Type: "message", Role: "assistant", Content: []ResponsesContent{{Type: "output_text", Text: text}}})
	}
	for _, tc := range resp.ToolCalls {
		out.Output = append(out.Output, ResponsesItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.ArgumentsJSON})
	}
	return out
}

func joinTextParts(parts []protocol.ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Kind == protocol.PartText {
			out += p.Text
		}
	}
	return out
}
