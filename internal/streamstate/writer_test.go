package streamstate

import (
	"strings"
	"testing"

	"github.com/relaygate/gateway/internal/protocol"
)

func framesToString(frames []Frame) string {
	var b strings.Builder
	for _, f := range frames {
		b.Write(f.Data)
	}
	return b.String()
}

func TestOpenAIChatWriterEmitsTextDeltaAndFinish(t *testing.T) {
	w := NewOpenAIChatWriter(New("gpt-4o"), true)

	role := w.Write(Event{Kind: EventRoleStart})
	if len(role) != 1 {
		t.Fatalf("role_start produced %d frames, want 1", len(role))
	}

	delta := w.Write(Event{Kind: EventTextDelta, Text: "hello"})
	if !strings.Contains(framesToString(delta), "hello") {
		t.Fatalf("text delta frame = %s, want it to contain %q", framesToString(delta), "hello")
	}

	finish := w.Write(Event{Kind: EventFinish, FinishReason: protocol.FinishStop, Usage: protocol.Usage{InputTokens: 3, OutputTokens: 5}})
	if len(finish) == 0 {
		t.Fatal("finish event produced no frames")
	}
	if !strings.Contains(framesToString(finish), "stop") {
		t.Fatalf("finish frames = %s, want finish_reason stop", framesToString(finish))
	}
}

func TestOpenAIChatWriterToolCallSequence(t *testing.T) {
	w := NewOpenAIChatWriter(New("gpt-4o"), false)

	open := w.Write(Event{Kind: EventToolCallOpen, ToolIndex: 0, ToolID: "call_1", ToolName: "get_weather"})
	if !strings.Contains(framesToString(open), "get_weather") {
		t.Fatalf("tool open frame = %s, want tool name", framesToString(open))
	}

	args := w.Write(Event{Kind: EventToolCallArgs, ToolIndex: 0, ArgsFragment: `{"city":`})
	if !strings.Contains(framesToString(args), `{"city":`) {
		t.Fatalf("tool args frame = %s, want the raw fragment forwarded verbatim", framesToString(args))
	}

	if close := w.Write(Event{Kind: EventToolCallClose, ToolIndex: 0}); close != nil {
		t.Fatalf("tool_call_close should produce no frame for openai_chat, got %v", close)
	}
}

func TestAnthropicWriterEmitsNamedSSEEvents(t *testing.T) {
	w := NewAnthropicWriter(New("claude-3-5-sonnet"))

	role := w.Write(Event{Kind: EventRoleStart})
	for _, f := range role {
		if f.EventType == "" {
			t.Fatalf("anthropic frame missing EventType: %+v", f)
		}
	}

	delta := w.Write(Event{Kind: EventTextDelta, Text: "hi"})
	found := false
	for _, f := range delta {
		if f.EventType == "content_block_delta" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a content_block_delta event among %+v", delta)
	}
}

func TestAnthropicWriterClosesOpenToolBlockOnFinish(t *testing.T) {
	w := NewAnthropicWriter(New("claude-3-5-sonnet"))

	w.Write(Event{Kind: EventRoleStart})
	w.Write(Event{Kind: EventToolCallOpen, ToolIndex: 0, ToolID: "call_1", ToolName: "get_weather"})
	w.Write(Event{Kind: EventToolCallArgs, ToolIndex: 0, ArgsFragment: `{"city":"nyc"}`})

	finish := w.Write(Event{Kind: EventFinish, FinishReason: protocol.FinishToolCall})
	found := false
	for _, f := range finish {
		if f.EventType == "content_block_stop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a content_block_stop for the still-open tool block among %+v", finish)
	}
}

func TestResponsesWriterClosesOpenFunctionCallOnFinish(t *testing.T) {
	w := NewResponsesWriter(New("gpt-4o"))

	w.Write(Event{Kind: EventToolCallOpen, ToolIndex: 0, ToolID: "call_1", ToolName: "get_weather"})
	w.Write(Event{Kind: EventToolCallArgs, ToolIndex: 0, ArgsFragment: `{"city":"nyc"}`})

	finish := w.Write(Event{Kind: EventFinish, FinishReason: protocol.FinishToolCall})
	found := false
	for _, f := range finish {
		if f.EventType == "response.output_item.done" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a response.output_item.done for the still-open function_call item among %+v", finish)
	}
}

func TestGeminiWriterCarriesToolNameIntoArgsEvent(t *testing.T) {
	w := NewGeminiWriter(New("gemini-2.5-pro"))

	w.Write(Event{Kind: EventToolCallOpen, ToolIndex: 0, ToolID: "call_1", ToolName: "get_weather"})
	args := w.Write(Event{Kind: EventToolCallArgs, ToolIndex: 0, ArgsFragment: `{"city":"nyc"}`})

	body := framesToString(args)
	if !strings.Contains(body, `"name":"get_weather"`) {
		t.Fatalf("gemini functionCall frame = %s, want the name carried over from the open event", body)
	}
}

func TestGeminiWriterEmitsCandidateShape(t *testing.T) {
	w := NewGeminiWriter(New("gemini-2.5-pro"))

	delta := w.Write(Event{Kind: EventTextDelta, Text: "hola"})
	body := framesToString(delta)
	if !strings.Contains(body, "candidates") {
		t.Fatalf("gemini frame = %s, want a candidates field", body)
	}
	if !strings.Contains(body, "hola") {
		t.Fatalf("gemini frame = %s, want the text delta", body)
	}
}
