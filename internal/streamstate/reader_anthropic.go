package streamstate

import (
	"encoding/json"

	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/protocol"
)

// AnthropicReader accumulates the per-event bookkeeping Anthropic's SSE
// format needs across a stream (tool_use blocks arrive as a
// content_block_start naming the tool, followed by any number of
// input_json_delta fragments, closed by content_block_stop) and reduces
// each upstream event to the shared event vocabulary.
type AnthropicReader struct {
	currentToolIndex int
	inToolBlock      bool
	usageIn          int
}

func NewAnthropicReader() *AnthropicReader { return &AnthropicReader{currentToolIndex: -1} }

type anthropicEvent struct {
	Type         string          `json:"type"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
}

func (r *AnthropicReader) Read(raw []byte) []Event {
	var ev anthropicEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []Event{{Kind: EventError, Err: err}}
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			r.usageIn = ev.Message.Usage.InputTokens
		}
		return []Event{{Kind: EventRoleStart}}

	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			r.inToolBlock = true
			r.currentToolIndex++
			return []Event{{Kind: EventToolCallOpen, ToolIndex: r.currentToolIndex, ToolID: ev.ContentBlock.ID, ToolName: ev.ContentBlock.Name}}
		}
		return nil

	case "content_block_delta":
		var td struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			Thinking    string `json:"thinking"`
		}
		if err := json.Unmarshal(ev.Delta, &td); err != nil {
			return nil
		}
		switch td.Type {
		case "text_delta":
			return []Event{{Kind: EventTextDelta, Text: td.Text}}
		case "thinking_delta":
			return []Event{{Kind: EventReasoningDelta, Text: td.Thinking}}
		case "input_json_delta":
			return []Event{{Kind: EventToolCallArgs, ToolIndex: r.currentToolIndex, ArgsFragment: td.PartialJSON}}
		}
		return nil

	case "content_block_stop":
		if r.inToolBlock {
			r.inToolBlock = false
			return []Event{{Kind: EventToolCallClose, ToolIndex: r.currentToolIndex}}
		}
		return nil

	case "message_delta":
		var md struct {
			StopReason string `json:"stop_reason"`
			Usage      struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(ev.Delta, &md); err != nil {
			return nil
		}
		if md.StopReason == "" {
			return nil
		}
		return []Event{{
			Kind:         EventFinish,
			FinishReason: convert.FinishFromAnthropic(md.StopReason),
			Usage:        protocol.Usage{InputTokens: r.usageIn, OutputTokens: md.Usage.OutputTokens, TotalTokens: r.usageIn + md.Usage.OutputTokens},
		}}

	case "message_stop":
		return nil

	case "error":
		var e struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		json.Unmarshal(raw, &e)
		return []Event{{Kind: EventError, Err: errString(e.Error.Message)}}
	}

	return nil
}

type errString string

func (e errString) Error() string { return string(e) }
