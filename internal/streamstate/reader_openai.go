package streamstate

import (
	"encoding/json"

	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/protocol"
)

type openAIChunkToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
	ThoughtSignature string `json:"thought_signature"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Role      string                `json:"role"`
			Content   string                `json:"content"`
			ToolCalls []openAIChunkToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ReadOpenAIChatChunk normalizes one upstream OpenAI Chat Completions SSE
// `data:` payload into the shared event vocabulary. toolSeen tracks which
// tool-call indices have already had an Open event emitted, since the name
// typically arrives on the first delta for that index only.
func ReadOpenAIChatChunk(raw []byte, toolSeen map[int]bool) []Event {
	var chunk openAIChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return []Event{{Kind: EventError, Err: err}}
	}

	var events []Event
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			events = append(events, Event{Kind: EventFinish, Usage: usageFromOpenAIChunk(chunk.Usage)})
		}
		return events
	}

	c := chunk.Choices[0]
	if c.Delta.Role != "" {
		events = append(events, Event{Kind: EventRoleStart})
	}
	if c.Delta.Content != "" {
		events = append(events, Event{Kind: EventTextDelta, Text: c.Delta.Content})
	}
	for _, tc := range c.Delta.ToolCalls {
		if !toolSeen[tc.Index] && tc.Function.Name != "" {
			toolSeen[tc.Index] = true
			events = append(events, Event{Kind: EventToolCallOpen, ToolIndex: tc.Index, ToolID: tc.ID, ToolName: tc.Function.Name, ThoughtSignature: tc.ThoughtSignature})
		}
		if tc.Function.Arguments != "" {
			events = append(events, Event{Kind: EventToolCallArgs, ToolIndex: tc.Index, ArgsFragment: tc.Function.Arguments})
		}
	}
	if c.FinishReason != "" {
		ev := Event{Kind: EventFinish, FinishReason: convert.FinishFromOpenAI(c.FinishReason)}
		if chunk.Usage != nil {
			ev.Usage = usageFromOpenAIChunk(chunk.Usage)
		}
		events = append(events, ev)
	}
	return events
}

func usageFromOpenAIChunk(u *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) protocol.Usage {
	return protocol.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}
