package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaygate/gateway/internal/protocol"
)

// Gemini GenerateContent wire types.

type GeminiRequest struct {
	Contents          []GeminiContent      `json:"contents"`
	Tools             []GeminiToolWrapper  `json:"tools,omitempty"`
	ToolConfig        *GeminiToolConfig    `json:"toolConfig,omitempty"`
	SystemInstruction *GeminiContent       `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenConfig     `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text             string                `json:"text,omitempty"`
	InlineData       *GeminiInlineData     `json:"inlineData,omitempty"`
	FileData         *GeminiFileData       `json:"fileData,omitempty"`
	FunctionCall     *GeminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
	Thought          bool                  `json:"thought,omitempty"`
	ThoughtSignature string                `json:"thoughtSignature,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type GeminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type GeminiToolWrapper struct {
	FunctionDeclarations []GeminiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type GeminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type GeminiToolConfig struct {
	FunctionCallingConfig *GeminiFunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type GeminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type GeminiGenConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type GeminiResponse struct {
	Candidates    []GeminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

// ToCanonicalGemini converts a Gemini GenerateContent request into the
// canonical tree. model is passed separately because Gemini carries it in
// the URL, not the body.
func ToCanonicalGemini(req *GeminiRequest, model string) (*protocol.Request, error) {
	out := &protocol.Request{Model: model}

	if req.SystemInstruction != nil {
		if text := geminiPartsText(req.SystemInstruction.Parts); text != "" {
			out.Messages = append(out.Messages, protocol.Message{Role: protocol.RoleSystem, Parts: []protocol.ContentPart{protocol.Text(text)}})
		}
	}

	var lastFunctionCallName = map[string]string{}

	for _, c := range req.Contents {
		role := protocol.RoleUser
		if c.Role == "model" {
			role = protocol.RoleAssistant
		}
		msg := protocol.Message{Role: role}

		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				id := p.FunctionCall.Name
				lastFunctionCallName[p.FunctionCall.Name] = id
				msg.ToolCalls = append(msg.ToolCalls, protocol.ToolCall{ID: id, Name: p.FunctionCall.Name, ArgumentsJSON: string(argsJSON), ThoughtSignature: p.ThoughtSignature})
			case p.FunctionResponse != nil:
				resultJSON, _ := json.Marshal(p.FunctionResponse.Response)
				id := p.FunctionResponse.Name
				if mapped, ok := lastFunctionCallName[p.FunctionResponse.Name]; ok {
					id = mapped
				}
				out.Messages = append(out.Messages, msg)
				msg = protocol.Message{Role: protocol.RoleTool, ToolCallID: id, Parts: []protocol.ContentPart{{Kind: protocol.PartToolResult, ToolUseID: id, ToolResult: string(resultJSON)}}}
			case p.InlineData != nil:
				data := mustBase64Decode(p.InlineData.Data)
				msg.Parts = append(msg.Parts, protocol.InlineImage(p.InlineData.MimeType, data))
			case p.FileData != nil:
				msg.Parts = append(msg.Parts, protocol.ImageURI(p.FileData.FileURI))
			case p.Thought:
				msg.Parts = append(msg.Parts, protocol.Thinking(p.Text))
			default:
				if p.Text != "" {
					msg.Parts = append(msg.Parts, protocol.Text(p.Text))
				}
			}
		}

		if len(msg.Parts) > 0 || len(msg.ToolCalls) > 0 {
			out.Messages = append(out.Messages, msg)
		}
	}

	for _, tw := range req.Tools {
		for _, fd := range tw.FunctionDeclarations {
			out.Tools = append(out.Tools, protocol.ToolDef{Name: fd.Name, Description: fd.Description, JSONSchema: fd.Parameters})
		}
	}
	out.ToolChoice = toolChoiceFromGemini(req.ToolConfig)

	if gc := req.GenerationConfig; gc != nil {
		out.Sampling = protocol.Sampling{Temperature: gc.Temperature, TopP: gc.TopP, TopK: gc.TopK, MaxOutputTokens: gc.MaxOutputTokens, Stop: gc.StopSequences}
		if gc.ResponseMimeType == "application/json" {
			if len(gc.ResponseSchema) > 0 {
				out.ResponseFormat = &protocol.ResponseFormat{Kind: protocol.ResponseFormatJSONSchema, Schema: gc.ResponseSchema}
			} else {
				out.ResponseFormat = &protocol.ResponseFormat{Kind: protocol.ResponseFormatJSON}
			}
		}
	}

	return out, nil
}

func geminiPartsText(parts []GeminiPart) string {
	var sb strings.Builder
	for i, p := range parts {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func toolChoiceFromGemini(tc *GeminiToolConfig) *protocol.ToolChoice {
	if tc == nil || tc.FunctionCallingConfig == nil {
		return nil
	}
	switch tc.FunctionCallingConfig.Mode {
	case "NONE":
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceNone}
	case "ANY":
		if len(tc.FunctionCallingConfig.AllowedFunctionNames) == 1 {
			return &protocol.ToolChoice{Kind: protocol.ToolChoiceNamed, Name: tc.FunctionCallingConfig.AllowedFunctionNames[0]}
		}
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceRequired}
	default:
		return &protocol.ToolChoice{Kind: protocol.ToolChoiceAuto}
	}
}

func toolChoiceToGemini(tc *protocol.ToolChoice) *GeminiToolConfig {
	if tc == nil {
		return nil
	}
	switch tc.Kind {
	case protocol.ToolChoiceNone:
		return &GeminiToolConfig{FunctionCallingConfig: &GeminiFunctionCallingConfig{Mode: "NONE"}}
	case protocol.ToolChoiceRequired:
		return &GeminiToolConfig{FunctionCallingConfig: &GeminiFunctionCallingConfig{Mode: "ANY"}}
	case protocol.ToolChoiceNamed:
		return &GeminiToolConfig{FunctionCallingConfig: &GeminiFunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.Name}}}
	default:
		return &GeminiToolConfig{FunctionCallingConfig: &GeminiFunctionCallingConfig{Mode: "AUTO"}}
	}
}

// FromCanonicalGemini converts the canonical tree into a Gemini
// GenerateContent request.
func FromCanonicalGemini(req *protocol.Request) *GeminiRequest {
	out := &GeminiRequest{}

	var rest []protocol.Message
	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == protocol.RoleSystem {
			systemParts = append(systemParts, onlyText(m))
			continue
		}
		rest = append(rest, m)
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: joinStrings(systemParts, "\n")}}}
	}

	rest = MergeAdjacent(rest)
	out.Contents = geminiContentsFromCanonical(rest)

	if len(req.Tools) > 0 {
		var decls []GeminiFunctionDecl
		for _, t := range req.Tools {
			schemaJSON, _ := json.Marshal(t.JSONSchema)
			pruned := PruneSchemaForGemini(string(schemaJSON))
			var schema map[string]any
			json.Unmarshal([]byte(pruned), &schema)
			decls = append(decls, GeminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: schema})
		}
		out.Tools = []GeminiToolWrapper{{FunctionDeclarations: decls}}
	}
	out.ToolConfig = toolChoiceToGemini(req.ToolChoice)

	gc := &GeminiGenConfig{Temperature: req.Sampling.Temperature, TopP: req.Sampling.TopP, TopK: req.Sampling.TopK, StopSequences: req.Sampling.Stop}
	if req.Sampling.MaxOutputTokens != nil {
		gc.MaxOutputTokens = req.Sampling.MaxOutputTokens
	} else {
		def := 65535 // gemini-specific default per spec §4.B.
		gc.MaxOutputTokens = &def
	}

	if isGeminiThinkingModel(req.Model) && len(req.Tools) == 0 {
		gc.ResponseModalities = []string{"TEXT"}
	}

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Kind {
		case protocol.ResponseFormatJSON:
			gc.ResponseMimeType = "application/json"
		case protocol.ResponseFormatJSONSchema:
			gc.ResponseMimeType = "application/json"
			gc.ResponseSchema = req.ResponseFormat.Schema
		}
	}
	out.GenerationConfig = gc

	return out
}

// isGeminiThinkingModel matches the model-id substrings that require
// generationConfig.responseModalities to be set explicitly (spec §4.B
// Gemini quirks).
func isGeminiThinkingModel(model string) bool {
	for _, needle := range []string{"2.5", "thinking", "2.0-flash-thinking"} {
		if strings.Contains(model, needle) {
			return true
		}
	}
	return false
}

func geminiContentsFromCanonical(msgs []protocol.Message) []GeminiContent {
	var out []GeminiContent
	for _, m := range msgs {
		role := "user"
		if m.Role == protocol.RoleAssistant {
			role = "model"
		}

		if m.Role == protocol.RoleTool {
			name := m.ToolCallID
			var result map[string]any
			for _, p := range m.Parts {
				if p.Kind == protocol.PartToolResult {
					json.Unmarshal([]byte(p.ToolResult), &result)
					if result == nil {
						result = map[string]any{"result": p.ToolResult}
					}
				}
			}
			out = append(out, GeminiContent{Role: "user", Parts: []GeminiPart{{FunctionResponse: &GeminiFunctionResponse{Name: name, Response: map[string]any{"name": name, "content": result}}}}})
			continue
		}

		var parts []GeminiPart
		for _, p := range m.Parts {
			switch p.Kind {
			case protocol.PartText:
				parts = append(parts, GeminiPart{Text: p.Text})
			case protocol.PartThinking:
				parts = append(parts, GeminiPart{Text: p.Text, Thought: true})
			case protocol.PartInlineImage:
				parts = append(parts, GeminiPart{InlineData: &GeminiInlineData{MimeType: p.MediaType, Data: base64StdEncode(p.Bytes)}})
			case protocol.PartImageURI:
				if mt, data, ok := parseDataURL(p.URI); ok {
					parts = append(parts, GeminiPart{InlineData: &GeminiInlineData{MimeType: mt, Data: base64StdEncode(data)}})
				} else {
					parts = append(parts, GeminiPart{FileData: &GeminiFileData{FileURI: p.URI}})
				}
			case protocol.PartAudioRef:
				parts = append(parts, GeminiPart{Text: fmt.Sprintf("[Audio: %s]", p.URI)})
			}
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			json.Unmarshal([]byte(tc.ArgumentsJSON), &args)
			parts = append(parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Name, Args: args}, ThoughtSignature: tc.ThoughtSignature})
		}

		out = append(out, GeminiContent{Role: role, Parts: parts})
	}
	return out
}

func ToCanonicalGeminiResponse(resp *GeminiResponse, model string) *protocol.Response {
	out := &protocol.Response{Model: model, Usage: usageFromGemini(resp.UsageMetadata)}
	if len(resp.Candidates) == 0 {
		return out
	}
	c := resp.Candidates[0]
	out.FinishReason = FinishFromGemini(c.FinishReason)
	for _, p := range c.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			argsJSON, _ := json.Marshal(p.FunctionCall.Args)
			out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{ID: p.FunctionCall.Name, Name: p.FunctionCall.Name, ArgumentsJSON: string(argsJSON), ThoughtSignature: p.ThoughtSignature})
		case p.Thought:
			out.Parts = append(out.Parts, protocol.Thinking(p.Text))
		default:
			if p.Text != "" {
				out.Parts = append(out.Parts, protocol.Text(p.Text))
			}
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = protocol.FinishToolCall
	}
	return out
}

func FromCanonicalGeminiResponse(resp *protocol.Response) *GeminiResponse {
	var parts []GeminiPart
	for _, p := range resp.Parts {
		if p.Kind == protocol.PartThinking {
			parts = append(parts, GeminiPart{Text: p.Text, Thought: true})
		} else if p.Kind == protocol.PartText {
			parts = append(parts, GeminiPart{Text: p.Text})
		}
	}
	for _, tc := range resp.ToolCalls {
		var args map[string]any
		json.Unmarshal([]byte(tc.ArgumentsJSON), &args)
		parts = append(parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Name, Args: args}, ThoughtSignature: tc.ThoughtSignature})
	}

	return &GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content:      GeminiContent{Role: "model", Parts: parts},
			FinishReason: FinishToGemini(resp.FinishReason),
		}},
		UsageMetadata: usageToGemini(resp.Usage),
		ModelVersion:  resp.Model,
	}
}

func mustBase64Decode(s string) []byte {
	data, err := base64Decode(s)
	if err != nil {
		return nil
	}
	return data
}
