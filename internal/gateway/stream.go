package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/relaygate/gateway/internal/adapter"
	"github.com/relaygate/gateway/internal/protocol"
	"github.com/relaygate/gateway/internal/streamstate"
)

// streamReader reduces one raw upstream line into normalized events, and
// streamWriter expands normalized events back into client-dialect frames
// — the two halves of the event-vocabulary pivot (spec.md §4.C).
type streamReader func(raw []byte) []streamstate.Event
type streamWriter interface {
	Write(ev streamstate.Event) []streamstate.Frame
}

// readerFor resolves the upstream chunk reader for dialect, tracking the
// per-chunk "tool index already seen" bookkeeping OpenAI's reader needs.
func readerFor(dialect protocol.Tag) streamReader {
	switch dialect {
	case protocol.Anthropic:
		r := streamstate.NewAnthropicReader()
		return r.Read
	case protocol.Gemini:
		r := streamstate.NewGeminiReader()
		return r.Read
	default: // openai_chat is the only other upstream-streaming dialect
		toolSeen := map[int]bool{}
		return func(raw []byte) []streamstate.Event { return streamstate.ReadOpenAIChatChunk(raw, toolSeen) }
	}
}

// writerFor resolves the client-facing event writer for dialect.
// ollamaGenerateShape only matters for protocol.Ollama: it picks
// /api/generate's {response, done, ...} framing over /api/chat's
// {message:{...}}.
func writerFor(dialect protocol.Tag, state *streamstate.State, includeUsage bool, ollamaGenerateShape bool) streamWriter {
	switch dialect {
	case protocol.Anthropic:
		return streamstate.NewAnthropicWriter(state)
	case protocol.Gemini:
		return streamstate.NewGeminiWriter(state)
	case protocol.OpenAIResponses:
		return streamstate.NewResponsesWriter(state)
	case protocol.Ollama:
		return streamstate.NewOllamaWriter(state, ollamaGenerateShape)
	default:
		return streamstate.NewOpenAIChatWriter(state, includeUsage)
	}
}

// sseHeaders sets the headers common to every streaming response; Ollama
// is NDJSON rather than SSE but shares the no-buffering/chunked posture.
func sseHeaders(w http.ResponseWriter, dialect protocol.Tag) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	if dialect == protocol.Ollama {
		w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	}
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, true
}

// writeFrame renders one client-dialect frame as wire bytes. Ollama has no
// SSE envelope at all (bare NDJSON lines); every other dialect uses
// `event: <type>\n` (when EventType is set) followed by `data: <json>\n\n`.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, dialect protocol.Tag, f streamstate.Frame) {
	if dialect == protocol.Ollama {
		if len(f.Data) > 0 {
			fmt.Fprintf(w, "%s\n", f.Data)
		}
		flusher.Flush()
		return
	}
	if f.Terminal && len(f.Data) == 0 {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}
	if f.EventType != "" {
		fmt.Fprintf(w, "event: %s\n", f.EventType)
	}
	fmt.Fprintf(w, "data: %s\n\n", f.Data)
	flusher.Flush()
	if f.Terminal && dialect == protocol.OpenAIChat {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// pumpStream drives upstream lines through reader -> writer -> HTTP bytes
// until the adapter's channel closes, per spec.md §4.F step 7 and §5's
// cancellation rule (closing the client connection must abort the
// upstream read; the adapter observes ctx cancellation itself).
func pumpStream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, dialect protocol.Tag, lines <-chan adapter.Line, read streamReader, write streamWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				if !errors.Is(line.Err, io.EOF) {
					slog.Error("upstream stream ended with error", "error", line.Err)
					return line.Err
				}
				return nil
			}
			for _, ev := range read(line.Data) {
				for _, f := range write.Write(ev) {
					writeFrame(w, flusher, dialect, f)
				}
			}
		}
	}
}
