package convert

import (
	"strings"

	"github.com/relaygate/gateway/internal/protocol"
)

// MergeAdjacent enforces the message-merging rule of spec §4.B: adjacent
// messages with the same role and only text parts are merged into one,
// newline-joining their text. The trailing whitespace of the final
// assistant text block is trimmed (an Anthropic requirement that is
// harmless to apply universally).
func MergeAdjacent(msgs []protocol.Message) []protocol.Message {
	if len(msgs) == 0 {
		return msgs
	}

	out := make([]protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && sameRoleTextOnly(out[n-1], m) {
			out[n-1].Parts[0].Text += "\n" + onlyText(m)
			continue
		}
		out = append(out, m)
	}

	if n := len(out); n > 0 && out[n-1].Role == protocol.RoleAssistant {
		last := out[n-1]
		if len(last.Parts) > 0 && last.Parts[len(last.Parts)-1].Kind == protocol.PartText {
			last.Parts[len(last.Parts)-1].Text = strings.TrimRight(last.Parts[len(last.Parts)-1].Text, " \t\n")
		}
	}

	return out
}

func sameRoleTextOnly(a, b protocol.Message) bool {
	if a.Role != b.Role || len(a.ToolCalls) > 0 || len(b.ToolCalls) > 0 {
		return false
	}
	return isTextOnly(a) && isTextOnly(b)
}

func isTextOnly(m protocol.Message) bool {
	if len(m.Parts) != 1 {
		return false
	}
	return m.Parts[0].Kind == protocol.PartText
}

func onlyText(m protocol.Message) string {
	if len(m.Parts) == 0 {
		return ""
	}
	return m.Parts[0].Text
}
