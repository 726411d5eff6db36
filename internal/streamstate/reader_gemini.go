package streamstate

import (
	"encoding/json"

	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/protocol"
)

// GeminiReader tracks which tool-call index is in play across chunks.
// Unlike OpenAI, Gemini does not stream partial function-call arguments:
// a functionCall part always carries its full args object in one chunk,
// so ToolCallOpen/Args/Close collapse to a single triple per call.
type GeminiReader struct {
	nextToolIndex int
	sawRole       bool
}

func NewGeminiReader() *GeminiReader { return &GeminiReader{} }

// Read normalizes one upstream Gemini streamGenerateContent SSE `data:`
// payload, which (unlike OpenAI) is a complete partial GeminiResponse
// object rather than a narrow delta container.
func (r *GeminiReader) Read(raw []byte) []Event {
	var chunk convert.GeminiResponse
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return []Event{{Kind: EventError, Err: err}}
	}

	var events []Event
	if !r.sawRole {
		r.sawRole = true
		events = append(events, Event{Kind: EventRoleStart})
	}

	if len(chunk.Candidates) == 0 {
		return events
	}
	c := chunk.Candidates[0]

	for _, p := range c.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			argsJSON, _ := json.Marshal(p.FunctionCall.Args)
			idx := r.nextToolIndex
			r.nextToolIndex++
			events = append(events,
				Event{Kind: EventToolCallOpen, ToolIndex: idx, ToolID: p.FunctionCall.Name, ToolName: p.FunctionCall.Name, ThoughtSignature: p.ThoughtSignature},
				Event{Kind: EventToolCallArgs, ToolIndex: idx, ArgsFragment: string(argsJSON)},
				Event{Kind: EventToolCallClose, ToolIndex: idx},
			)
		case p.Thought:
			events = append(events, Event{Kind: EventReasoningDelta, Text: p.Text})
		default:
			if p.Text != "" {
				events = append(events, Event{Kind: EventTextDelta, Text: p.Text})
			}
		}
	}

	if c.FinishReason != "" {
		finish := convert.FinishFromGemini(c.FinishReason)
		events = append(events, Event{Kind: EventFinish, FinishReason: finish, Usage: usageFromGeminiChunk(chunk)})
	}

	return events
}

func usageFromGeminiChunk(chunk convert.GeminiResponse) protocol.Usage {
	return protocol.Usage{
		InputTokens:       chunk.UsageMetadata.PromptTokenCount,
		OutputTokens:      chunk.UsageMetadata.CandidatesTokenCount,
		CachedInputTokens: chunk.UsageMetadata.CachedContentTokenCount,
		ReasoningTokens:   chunk.UsageMetadata.ThoughtsTokenCount,
		TotalTokens:       chunk.UsageMetadata.TotalTokenCount,
	}
}
