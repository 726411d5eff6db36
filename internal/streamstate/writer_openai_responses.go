package streamstate

import "sort"

// ResponsesWriter renders normalized events as OpenAI Responses API SSE
// events. Responses is the most verbose client dialect: every turn opens
// with a created/in_progress pair and an output_item/content_part pair
// per block, and closes the same items in reverse before the terminal
// response.completed event (spec §4.C).
type ResponsesWriter struct {
	state         *State
	opened        bool
	textPartOpen  bool
	toolItemIndex map[int]int
	toolClosed    map[int]bool
	nextItemIndex int
}

func NewResponsesWriter(s *State) *ResponsesWriter {
	return &ResponsesWriter{state: s, toolItemIndex: map[int]int{}, toolClosed: map[int]bool{}}
}

func (w *ResponsesWriter) Write(ev Event) []Frame {
	var frames []Frame
	if !w.opened {
		w.opened = true
		frames = append(frames,
			w.event("response.created", map[string]any{"response": w.skeleton("in_progress")}),
			w.event("response.in_progress", map[string]any{"response": w.skeleton("in_progress")}),
		)
	}

	switch ev.Kind {
	case EventRoleStart:
		return frames

	case EventTextDelta:
		w.state.appendText(ev.Text)
		if !w.textPartOpen {
			w.textPartOpen = true
			idx := w.nextItemIndex
			w.nextItemIndex++
			frames = append(frames,
				w.event("response.output_item.added", map[string]any{"output_index": idx, "item": map[string]any{"type": "message", "role": "assistant"}}),
				w.event("response.content_part.added", map[string]any{"output_index": idx, "part": map[string]any{"type": "output_text", "text": ""}}),
			)
		}
		frames = append(frames, w.event("response.output_text.delta", map[string]any{
			"output_index": w.nextItemIndex - 1, "delta": ev.Text,
		}))
		return frames

	case EventReasoningDelta:
		frames = append(frames, w.event("response.reasoning_summary_text.delta", map[string]any{"delta": ev.Text}))
		return frames

	case EventToolCallOpen:
		idx := w.nextItemIndex
		w.nextItemIndex++
		w.toolItemIndex[ev.ToolIndex] = idx
		frames = append(frames, w.event("response.output_item.added", map[string]any{
			"output_index": idx, "item": map[string]any{"type": "function_call", "call_id": ev.ToolID, "name": ev.ToolName},
		}))
		return frames

	case EventToolCallArgs:
		idx := w.toolItemIndex[ev.ToolIndex]
		frames = append(frames, w.event("response.custom_tool_call_input.delta", map[string]any{
			"output_index": idx, "delta": ev.ArgsFragment,
		}))
		return frames

	case EventToolCallClose:
		idx := w.toolItemIndex[ev.ToolIndex]
		w.toolClosed[ev.ToolIndex] = true
		frames = append(frames, w.event("response.output_item.done", map[string]any{"output_index": idx}))
		return frames

	case EventFinish:
		if w.textPartOpen {
			idx := w.nextItemIndex - 1
			frames = append(frames,
				w.event("response.output_text.done", map[string]any{"output_index": idx, "text": w.state.FullText()}),
				w.event("response.content_part.done", map[string]any{"output_index": idx}),
				w.event("response.output_item.done", map[string]any{"output_index": idx}),
			)
			w.textPartOpen = false
		}
		for _, idx := range w.openToolItemIndices() {
			frames = append(frames, w.event("response.output_item.done", map[string]any{"output_index": idx}))
		}
		frames = append(frames, w.event("response.completed", map[string]any{
			"response": map[string]any{
				"id": w.state.ID, "model": w.state.Model, "status": "completed",
				"usage": map[string]any{
					"input_tokens": ev.Usage.InputTokens, "output_tokens": ev.Usage.OutputTokens, "total_tokens": ev.Usage.TotalTokens,
				},
			},
		}))
		return frames

	case EventError:
		frames = append(frames, w.event("response.error", map[string]any{"error": map[string]any{"message": ev.Err.Error()}}))
		return frames
	}
	return frames
}

// openToolItemIndices returns the output_index of every function_call item
// that was opened but never explicitly closed, in the order it was opened.
// Needed for upstreams whose wire format has no per-call boundary of its
// own and only ever signals turn completion once, at the end.
func (w *ResponsesWriter) openToolItemIndices() []int {
	var toolIdx []int
	for toolIndex := range w.toolItemIndex {
		if !w.toolClosed[toolIndex] {
			toolIdx = append(toolIdx, toolIndex)
		}
	}
	sort.Ints(toolIdx)
	itemIdx := make([]int, len(toolIdx))
	for i, t := range toolIdx {
		itemIdx[i] = w.toolItemIndex[t]
		w.toolClosed[t] = true
	}
	sort.Ints(itemIdx)
	return itemIdx
}

func (w *ResponsesWriter) skeleton(status string) map[string]any {
	return map[string]any{"id": w.state.ID, "model": w.state.Model, "status": status, "output": []any{}}
}

func (w *ResponsesWriter) event(eventType string, body map[string]any) Frame {
	body["type"] = eventType
	return Frame{EventType: eventType, Data: mustJSON(body)}
}
