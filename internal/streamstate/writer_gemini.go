package streamstate

import (
	"encoding/json"

	"github.com/relaygate/gateway/internal/convert"
)

// GeminiWriter renders normalized events as Gemini streamGenerateContent
// chunks. Gemini has no opening preamble and no terminal sentinel: the
// stream simply ends when the upstream connection closes after the chunk
// carrying a finishReason (spec §4.C).
type GeminiWriter struct {
	state         *State
	toolName      map[int]string
	toolSignature map[int]string
}

func NewGeminiWriter(s *State) *GeminiWriter {
	return &GeminiWriter{state: s, toolName: map[int]string{}, toolSignature: map[int]string{}}
}

func (w *GeminiWriter) Write(ev Event) []Frame {
	switch ev.Kind {
	case EventRoleStart:
		return nil

	case EventTextDelta:
		w.state.appendText(ev.Text)
		return []Frame{w.chunk(map[string]any{"parts": []map[string]any{{"text": ev.Text}}}, "")}

	case EventReasoningDelta:
		return []Frame{w.chunk(map[string]any{"parts": []map[string]any{{"text": ev.Text, "thought": true}}}, "")}

	case EventToolCallOpen:
		w.toolName[ev.ToolIndex] = ev.ToolName
		if ev.ThoughtSignature != "" {
			w.toolSignature[ev.ToolIndex] = ev.ThoughtSignature
		}
		return nil

	case EventToolCallArgs:
		var args any
		_ = json.Unmarshal([]byte(ev.ArgsFragment), &args)
		name := ev.ToolName
		if name == "" {
			name = w.toolName[ev.ToolIndex]
		}
		part := map[string]any{"functionCall": map[string]any{"name": name, "args": args}}
		signature := ev.ThoughtSignature
		if signature == "" {
			signature = w.toolSignature[ev.ToolIndex]
		}
		if signature != "" {
			part["thoughtSignature"] = signature
		}
		return []Frame{w.chunk(map[string]any{"parts": []map[string]any{part}}, "")}

	case EventToolCallClose:
		return nil

	case EventFinish:
		body := map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{}},
				"finishReason": convert.FinishToGemini(ev.FinishReason),
				"index":        0,
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount": ev.Usage.InputTokens, "candidatesTokenCount": ev.Usage.OutputTokens,
				"cachedContentTokenCount": ev.Usage.CachedInputTokens, "thoughtsTokenCount": ev.Usage.ReasoningTokens,
				"totalTokenCount": ev.Usage.TotalTokens,
			},
		}
		return []Frame{{Data: mustJSON(body)}}

	case EventError:
		return []Frame{{Data: mustJSON(map[string]any{"error": map[string]any{"message": ev.Err.Error(), "status": "INTERNAL"}})}}
	}
	return nil
}

func (w *GeminiWriter) chunk(content map[string]any, finishReason string) Frame {
	cand := map[string]any{"content": content, "index": 0}
	if finishReason != "" {
		cand["finishReason"] = finishReason
	}
	body := map[string]any{"candidates": []map[string]any{cand}, "modelVersion": w.state.Model}
	return Frame{Data: mustJSON(body)}
}
