package convert

import "github.com/relaygate/gateway/internal/protocol"

// Finish-reason mapping table (spec §4.B). The canonical enum is the pivot;
// every protocol maps onto and off of it, so the composition P→Q→R→P is
// necessarily idempotent as long as each half of the table below is a
// proper (if lossy) inverse pair.

func FinishFromOpenAI(s string) protocol.FinishReason {
	switch s {
	case "stop":
		return protocol.FinishStop
	case "length":
		return protocol.FinishLength
	case "tool_calls", "function_call":
		return protocol.FinishToolCall
	case "content_filter":
		return protocol.FinishSafety
	default:
		return protocol.FinishOther
	}
}

func FinishToOpenAI(f protocol.FinishReason) string {
	switch f {
	case protocol.FinishStop:
		return "stop"
	case protocol.FinishLength:
		return "length"
	case protocol.FinishToolCall:
		return "tool_calls"
	case protocol.FinishSafety:
		return "content_filter"
	default:
		return "stop"
	}
}

func FinishFromAnthropic(s string) protocol.FinishReason {
	switch s {
	case "end_turn":
		return protocol.FinishStop
	case "max_tokens":
		return protocol.FinishLength
	case "tool_use":
		return protocol.FinishToolCall
	case "stop_sequence":
		return protocol.FinishSafety
	default:
		return protocol.FinishOther
	}
}

func FinishToAnthropic(f protocol.FinishReason) string {
	switch f {
	case protocol.FinishStop:
		return "end_turn"
	case protocol.FinishLength:
		return "max_tokens"
	case protocol.FinishToolCall:
		return "tool_use"
	case protocol.FinishSafety:
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

func FinishFromGemini(s string) protocol.FinishReason {
	switch s {
	case "STOP":
		return protocol.FinishStop
	case "MAX_TOKENS":
		return protocol.FinishLength
	case "SAFETY":
		return protocol.FinishSafety
	default:
		return protocol.FinishOther
	}
}

// FinishToGemini has no dedicated "tool call" status in the Gemini wire
// format: a function call response simply carries STOP, per spec §4.B's
// mapping table.
func FinishToGemini(f protocol.FinishReason) string {
	switch f {
	case protocol.FinishLength:
		return "MAX_TOKENS"
	case protocol.FinishSafety:
		return "SAFETY"
	default:
		return "STOP"
	}
}
