package streamstate

import (
	"sort"

	"github.com/relaygate/gateway/internal/convert"
)

// AnthropicWriter renders normalized events as Anthropic Messages SSE
// events. Anthropic is the strictest of the client dialects about framing:
// every content block is bracketed by its own content_block_start/stop,
// and the stream itself is bracketed by message_start/message_stop
// (spec §4.C).
type AnthropicWriter struct {
	state          *State
	textOpened     bool
	openToolIdx    int
	toolBlockIndex map[int]int
	toolClosed     map[int]bool
	nextBlockIndex int
}

func NewAnthropicWriter(s *State) *AnthropicWriter {
	return &AnthropicWriter{state: s, toolBlockIndex: map[int]int{}, toolClosed: map[int]bool{}}
}

func (w *AnthropicWriter) Write(ev Event) []Frame {
	switch ev.Kind {
	case EventRoleStart:
		return []Frame{w.event("message_start", map[string]any{
			"message": map[string]any{
				"id": w.state.ID, "type": "message", "role": "assistant",
				"model": w.state.Model, "content": []any{}, "stop_reason": nil,
				"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})}

	case EventTextDelta:
		w.state.appendText(ev.Text)
		var frames []Frame
		if !w.textOpened {
			w.textOpened = true
			idx := w.nextBlockIndex
			w.nextBlockIndex++
			frames = append(frames, w.event("content_block_start", map[string]any{
				"index": idx, "content_block": map[string]any{"type": "text", "text": ""},
			}))
		}
		frames = append(frames, w.event("content_block_delta", map[string]any{
			"index": w.nextBlockIndex - 1, "delta": map[string]any{"type": "text_delta", "text": ev.Text},
		}))
		return frames

	case EventReasoningDelta:
		idx := w.nextBlockIndex
		w.nextBlockIndex++
		return []Frame{w.event("content_block_delta", map[string]any{
			"index": idx, "delta": map[string]any{"type": "thinking_delta", "thinking": ev.Text},
		})}

	case EventToolCallOpen:
		idx := w.nextBlockIndex
		w.nextBlockIndex++
		w.toolBlockIndex[ev.ToolIndex] = idx
		return []Frame{w.event("content_block_start", map[string]any{
			"index": idx, "content_block": map[string]any{
				"type": "tool_use", "id": ev.ToolID, "name": ev.ToolName, "input": map[string]any{},
			},
		})}

	case EventToolCallArgs:
		idx := w.toolBlockIndex[ev.ToolIndex]
		return []Frame{w.event("content_block_delta", map[string]any{
			"index": idx, "delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ArgsFragment},
		})}

	case EventToolCallClose:
		idx := w.toolBlockIndex[ev.ToolIndex]
		w.toolClosed[ev.ToolIndex] = true
		return []Frame{w.event("content_block_stop", map[string]any{"index": idx})}

	case EventFinish:
		var frames []Frame
		if w.textOpened {
			frames = append(frames, w.event("content_block_stop", map[string]any{"index": w.nextBlockIndex - 1}))
			w.textOpened = false
		}
		for _, idx := range w.openToolBlockIndices() {
			frames = append(frames, w.event("content_block_stop", map[string]any{"index": idx}))
		}
		frames = append(frames,
			w.event("message_delta", map[string]any{
				"delta": map[string]any{"stop_reason": convert.FinishToAnthropic(ev.FinishReason)},
				"usage": map[string]any{"output_tokens": ev.Usage.OutputTokens},
			}),
			w.event("message_stop", map[string]any{}),
		)
		return frames

	case EventError:
		return []Frame{w.event("error", map[string]any{"error": map[string]any{"type": "api_error", "message": ev.Err.Error()}})}
	}
	return nil
}

// openToolBlockIndices returns the content_block indices of every tool_use
// block that was opened but never explicitly closed, in the order they
// were opened. An upstream that never signals a per-tool-call boundary of
// its own (e.g. OpenAI chat completions, which only marks completion with
// a single finish_reason chunk) relies on this to still produce a
// content_block_stop for each tool block once the turn ends.
func (w *AnthropicWriter) openToolBlockIndices() []int {
	var toolIdx []int
	for toolIndex := range w.toolBlockIndex {
		if !w.toolClosed[toolIndex] {
			toolIdx = append(toolIdx, toolIndex)
		}
	}
	sort.Ints(toolIdx)
	blockIdx := make([]int, len(toolIdx))
	for i, t := range toolIdx {
		blockIdx[i] = w.toolBlockIndex[t]
		w.toolClosed[t] = true
	}
	sort.Ints(blockIdx)
	return blockIdx
}

func (w *AnthropicWriter) event(eventType string, body map[string]any) Frame {
	body["type"] = eventType
	return Frame{EventType: eventType, Data: mustJSON(body)}
}
