// Package streamstate drives the streaming pipeline of spec §4.C: upstream
// chunks are replayed through a protocol-specific reader and a client-
// dialect writer. A per-request State carries the stream's ids, model,
// start time and accumulated text; each writer keeps its own open-block and
// tool-call index bookkeeping, which lets the client dialect's opening and
// closing frame sequences be emitted correctly.
//
// A State is allocated fresh per HTTP request and discarded when the
// stream ends; it is never stored in a package-level registry (spec §9
// flags the upstream gateway's process-wide StreamState map as a bug
// surface this implementation must not repeat).
package streamstate

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// openToolCall tracks one in-flight tool call across upstream chunks.
type openToolCall struct {
	id         string
	name       string
	argsBuffer string
}

// State is the per-request object described in spec §4.C.
type State struct {
	ID             string
	MsgID          string
	Model          string
	StartedAt      time.Time
	SequenceNumber int

	fullText           string
	roleSent           bool
	openContentBlock   bool
	openContentIndex   int
	openToolCalls      map[int]*openToolCall
	nextToolBlockIndex int
}

// New allocates a fresh per-request stream state.
func New(model string) *State {
	return &State{
		ID:            "chatcmpl-" + ulid.Make().String(),
		MsgID:         "msg_" + ulid.Make().String(),
		Model:         model,
		StartedAt:     time.Now(),
		openToolCalls: make(map[int]*openToolCall),
	}
}

func (s *State) nextSeq() int {
	s.SequenceNumber++
	return s.SequenceNumber
}

// FullText returns the assistant text accumulated so far, needed by the
// OpenAI-Responses writer to emit a final output_text.done{text:fullText}
// event (spec §9 design note on the Responses streaming buffer).
func (s *State) FullText() string { return s.fullText }

func (s *State) appendText(t string) { s.fullText += t }

func (s *State) toolCall(index int) *openToolCall {
	tc, ok := s.openToolCalls[index]
	if !ok {
		tc = &openToolCall{}
		s.openToolCalls[index] = tc
	}
	return tc
}

// openToolCallIndices returns the indices of tool calls still open, in
// ascending order, so closing frames can be emitted deterministically.
func (s *State) openToolCallIndices() []int {
	idx := make([]int, 0, len(s.openToolCalls))
	for i := range s.openToolCalls {
		idx = append(idx, i)
	}
	// simple insertion sort; N is always small (handful of tool calls per turn)
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && idx[j-1] > idx[j]; j-- {
			idx[j-1], idx[j] = idx[j], idx[j-1]
		}
	}
	return idx
}
