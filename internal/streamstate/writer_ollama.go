package streamstate

import "time"

// OllamaWriter renders normalized events as Ollama's NDJSON chat-streaming
// format. Ollama frames carry no SSE envelope at all: each line is a bare
// JSON object, and the stream's end is marked by done:true on the final
// object rather than a separate sentinel (spec §4.B/§4.C). generateShape
// switches the per-line payload from /api/chat's {message:{...}} to
// /api/generate's {response: "..."}.
type OllamaWriter struct {
	state         *State
	generateShape bool
	toolName      map[int]string
}

func NewOllamaWriter(s *State, generateShape bool) *OllamaWriter {
	return &OllamaWriter{state: s, generateShape: generateShape, toolName: map[int]string{}}
}

func (w *OllamaWriter) Write(ev Event) []Frame {
	switch ev.Kind {
	case EventRoleStart:
		return nil

	case EventTextDelta:
		w.state.appendText(ev.Text)
		if w.generateShape {
			return []Frame{w.line(map[string]any{"response": ev.Text, "done": false})}
		}
		return []Frame{w.line(map[string]any{
			"message": map[string]any{"role": "assistant", "content": ev.Text},
			"done":    false,
		})}

	case EventReasoningDelta:
		if w.generateShape {
			return []Frame{w.line(map[string]any{"response": ev.Text, "done": false})}
		}
		return []Frame{w.line(map[string]any{
			"message": map[string]any{"role": "assistant", "content": "", "thinking": ev.Text},
			"done":    false,
		})}

	case EventToolCallOpen:
		w.toolName[ev.ToolIndex] = ev.ToolName
		return nil

	case EventToolCallArgs:
		if w.generateShape {
			// /api/generate has no tool-call carrier of its own; Ollama
			// clients that need tool calls use /api/chat.
			return nil
		}
		name := ev.ToolName
		if name == "" {
			name = w.toolName[ev.ToolIndex]
		}
		return []Frame{w.line(map[string]any{
			"message": map[string]any{
				"role": "assistant", "content": "",
				"tool_calls": []map[string]any{{
					"function": map[string]any{"name": name, "arguments": ev.ArgsFragment},
				}},
			},
			"done": false,
		})}

	case EventFinish:
		body := map[string]any{
			"model":             w.state.Model,
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": ev.Usage.InputTokens,
			"eval_count":        ev.Usage.OutputTokens,
			"total_duration":    time.Since(w.state.StartedAt).Nanoseconds(),
		}
		if w.generateShape {
			body["response"] = ""
		} else {
			body["message"] = map[string]any{"role": "assistant", "content": ""}
		}
		body["created_at"] = w.state.StartedAt.UTC().Format(time.RFC3339Nano)
		return []Frame{{Terminal: true, Data: mustJSON(body)}}

	case EventError:
		return []Frame{{Data: mustJSON(map[string]any{"error": ev.Err.Error()})}}
	}
	return nil
}

func (w *OllamaWriter) line(body map[string]any) Frame {
	body["model"] = w.state.Model
	body["created_at"] = w.state.StartedAt.UTC().Format(time.RFC3339Nano)
	return Frame{Data: mustJSON(body)}
}
