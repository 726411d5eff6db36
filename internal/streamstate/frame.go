package streamstate

// Frame is one client-dialect wire frame the writer wants emitted. EventType
// is empty for dialects that don't use SSE's named-event field (openai_chat,
// gemini); Data is the JSON payload, already marshaled. Terminal is true for
// the final frame of a stream's normal termination (openai_chat's
// `[DONE]` sentinel is represented as a Frame with Terminal=true and no
// Data, handled specially by the HTTP writer).
type Frame struct {
	EventType string
	Data      []byte
	Terminal  bool
}
