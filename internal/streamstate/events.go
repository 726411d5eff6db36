package streamstate

import "github.com/relaygate/gateway/internal/protocol"

// EventKind is the normalized event vocabulary every upstream chunk reader
// reduces its wire format to, and every client-dialect writer re-expands
// from. This is the pivot for streaming — distinct from (and narrower
// than) the canonical request/response tree, since spec §4.C is explicit
// that stream framing does not commute through a canonical buffer: the
// pivot here carries only the handful of primitives every dialect's
// opening/closing frame sequence needs, not a full reconstructed message.
type EventKind string

const (
	EventRoleStart       EventKind = "role_start"
	EventTextDelta       EventKind = "text_delta"
	EventReasoningDelta  EventKind = "reasoning_delta"
	EventToolCallOpen    EventKind = "tool_call_open"    // name first known
	EventToolCallArgs    EventKind = "tool_call_args"    // raw JSON fragment, forward verbatim
	EventToolCallClose   EventKind = "tool_call_close"
	EventFinish          EventKind = "finish"
	EventError           EventKind = "error"
)

// Event is one normalized upstream occurrence. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind EventKind

	Text string // EventTextDelta, EventReasoningDelta

	ToolIndex        int    // EventToolCallOpen/Args/Close: upstream's positional index
	ToolID           string // EventToolCallOpen
	ToolName         string // EventToolCallOpen
	ArgsFragment     string // EventToolCallArgs
	ThoughtSignature string // EventToolCallOpen/Close (Gemini)

	FinishReason protocol.FinishReason // EventFinish
	Usage        protocol.Usage        // EventFinish

	Err error // EventError
}
