// Package protocol holds the canonical in-memory representation of a chat
// turn shared by every wire dialect the gateway understands. Converters in
// internal/convert map concrete upstream shapes onto this tree and back; the
// tree itself is never serialized on the wire.
package protocol

import "strings"

// Tag identifies one of the wire dialects the gateway speaks.
type Tag string

const (
	OpenAIChat      Tag = "openai_chat"
	OpenAIResponses Tag = "openai_responses"
	Anthropic       Tag = "anthropic"
	Gemini          Tag = "gemini"
	Ollama          Tag = "ollama"
)

// TagOf returns the protocol tag for a provider kind string of the form
// "<protocol>-<vendor>" (e.g. "openai-qwen-oauth", "claude-kiro-oauth").
// The prefix before the first hyphen names the protocol family; a handful
// of historical kind names don't spell the protocol tag directly and are
// special-cased.
func TagOf(kind string) Tag {
	prefix, _, found := strings.Cut(kind, "-")
	if !found {
		prefix = kind
	}

	switch prefix {
	case "claude":
		return Anthropic
	case "gemini":
		return Gemini
	case "openaiResponses":
		return OpenAIResponses
	case "openai":
		return OpenAIChat
	case "ollama":
		return Ollama
	default:
		return OpenAIChat
	}
}

// Role is the speaker of a message turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates the ContentPart union.
type PartKind string

const (
	PartText        PartKind = "text"
	PartInlineImage PartKind = "inline_image"
	PartImageURI    PartKind = "image_uri"
	PartAudioRef    PartKind = "audio_ref"
	PartToolUse     PartKind = "tool_use"
	PartToolResult  PartKind = "tool_result"
	PartThinking    PartKind = "thinking"
)

// ContentPart is one variant of message content. Only the fields relevant
// to Kind are populated; the rest are zero.
type ContentPart struct {
	Kind PartKind

	Text string // PartText, PartThinking

	MediaType string // PartInlineImage
	Bytes     []byte // PartInlineImage

	URI string // PartImageURI, PartAudioRef

	ToolUseID   string // PartToolUse, PartToolResult
	ToolName    string // PartToolUse
	ToolArgsRaw string // PartToolUse: raw JSON object text, not yet parsed
	ToolResult  string // PartToolResult: JSON-able string value

	// ThoughtSignature carries Gemini's opaque reasoning-continuity token
	// so it can be echoed back verbatim on a later turn even when an
	// intermediate OpenAI-compatible client drops unknown fields.
	ThoughtSignature string
}

func Text(s string) ContentPart           { return ContentPart{Kind: PartText, Text: s} }
func Thinking(s string) ContentPart       { return ContentPart{Kind: PartThinking, Text: s} }
func InlineImage(mt string, b []byte) ContentPart {
	return ContentPart{Kind: PartInlineImage, MediaType: mt, Bytes: b}
}
func ImageURI(uri string) ContentPart { return ContentPart{Kind: PartImageURI, URI: uri} }
func AudioRef(uri string) ContentPart { return ContentPart{Kind: PartAudioRef, URI: uri} }

// Message is one turn in the conversation.
type Message struct {
	Role     Role
	Parts    []ContentPart
	ToolCalls []ToolCall // assistant-issued calls attached to this turn
	// ToolCallID is set on a RoleTool message answering a prior ToolCall.
	ToolCallID string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID               string
	Name             string
	ArgumentsJSON    string // raw JSON object text, forwarded verbatim until complete
	ThoughtSignature string
}

// ToolDef is a function the model may call.
type ToolDef struct {
	Name        string
	Description string
	JSONSchema  map[string]any
}

// ToolChoiceKind discriminates ToolChoice.
type ToolChoiceKind string

const (
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceNamed    ToolChoiceKind = "named"
)

type ToolChoice struct {
	Kind ToolChoiceKind
	Name string // ToolChoiceNamed
}

// Sampling carries optional generation parameters; nil pointer fields mean
// "absent on the source," to be resolved to protocol defaults by the
// target converter.
type Sampling struct {
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens *int
	Stop            []string
}

// ResponseFormatKind discriminates ResponseFormat.
type ResponseFormatKind string

const (
	ResponseFormatText       ResponseFormatKind = "text"
	ResponseFormatJSON       ResponseFormatKind = "json"
	ResponseFormatJSONSchema ResponseFormatKind = "json_schema"
)

type ResponseFormat struct {
	Kind   ResponseFormatKind
	Schema map[string]any // ResponseFormatJSONSchema
}

// Request is the canonical shape converters map to/from.
type Request struct {
	Model          string
	Stream         bool
	Messages       []Message
	Tools          []ToolDef
	ToolChoice     *ToolChoice
	Sampling       Sampling
	ResponseFormat *ResponseFormat
}

// FinishReason is the canonical terminal-state enum.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishLength   FinishReason = "length"
	FinishToolCall FinishReason = "toolCall"
	FinishSafety   FinishReason = "safety"
	FinishOther    FinishReason = "other"
)

// Usage is the canonical token-accounting record.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	ReasoningTokens   int
	TotalTokens       int
}

// Response is the canonical non-streaming result.
type Response struct {
	ID           string
	Model        string
	FinishReason FinishReason
	Parts        []ContentPart
	ToolCalls    []ToolCall
	Usage        Usage
}

// ModelInfo is one entry of a canonical model list.
type ModelInfo struct {
	ID               string
	DisplayName      string
	Description      string
	Version          string
	InputTokenLimit  int
	OutputTokenLimit int
}
