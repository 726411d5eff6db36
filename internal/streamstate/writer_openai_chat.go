package streamstate

import (
	"encoding/json"

	"github.com/relaygate/gateway/internal/convert"
)

// OpenAIChatWriter renders normalized events as OpenAI Chat Completions
// SSE chunks. openai_chat has no opening preamble: the first data chunk
// simply carries the role (spec §4.C).
type OpenAIChatWriter struct {
	state        *State
	includeUsage bool
}

func NewOpenAIChatWriter(s *State, includeUsage bool) *OpenAIChatWriter {
	return &OpenAIChatWriter{state: s, includeUsage: includeUsage}
}

func (w *OpenAIChatWriter) Write(ev Event) []Frame {
	switch ev.Kind {
	case EventRoleStart:
		return []Frame{w.chunk(map[string]any{"role": "assistant"}, "")}

	case EventTextDelta:
		w.state.appendText(ev.Text)
		return []Frame{w.chunk(map[string]any{"content": ev.Text}, "")}

	case EventReasoningDelta:
		return []Frame{w.chunk(map[string]any{"reasoning_content": ev.Text}, "")}

	case EventToolCallOpen:
		return []Frame{w.chunk(map[string]any{"tool_calls": []map[string]any{{
			"index": ev.ToolIndex, "id": ev.ToolID, "type": "function",
			"function": map[string]any{"name": ev.ToolName, "arguments": ""},
		}}}, "")}

	case EventToolCallArgs:
		return []Frame{w.chunk(map[string]any{"tool_calls": []map[string]any{{
			"index": ev.ToolIndex, "function": map[string]any{"arguments": ev.ArgsFragment},
		}}}, "")}

	case EventToolCallClose:
		return nil

	case EventFinish:
		// finish_reason is emitted in its own chunk, separate from the last
		// content delta, since several OpenAI-compatible clients key their
		// parsing on that chunk carrying no data.
		frames := []Frame{w.chunk(map[string]any{}, convert.FinishToOpenAI(ev.FinishReason))}
		if w.includeUsage {
			frames = append(frames, w.usageOnlyChunk(ev))
		}
		frames = append(frames, Frame{Terminal: true})
		return frames

	case EventError:
		return []Frame{{Data: mustJSON(map[string]any{"error": map[string]any{"message": ev.Err.Error(), "type": "server_error"}})}}
	}
	return nil
}

func (w *OpenAIChatWriter) chunk(delta map[string]any, finishReason string) Frame {
	choice := map[string]any{"index": 0, "delta": delta}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	} else {
		choice["finish_reason"] = nil
	}
	body := map[string]any{
		"id": w.state.ID, "object": "chat.completion.chunk", "model": w.state.Model,
		"choices": []map[string]any{choice},
	}
	return Frame{Data: mustJSON(body)}
}

func (w *OpenAIChatWriter) usageOnlyChunk(ev Event) Frame {
	body := map[string]any{
		"id": w.state.ID, "object": "chat.completion.chunk", "model": w.state.Model,
		"choices": []map[string]any{},
		"usage": map[string]any{
			"prompt_tokens": ev.Usage.InputTokens, "completion_tokens": ev.Usage.OutputTokens, "total_tokens": ev.Usage.TotalTokens,
		},
	}
	return Frame{Data: mustJSON(body)}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
