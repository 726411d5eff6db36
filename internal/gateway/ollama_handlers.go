package gateway

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/gwerror"
	"github.com/relaygate/gateway/internal/protocol"
)

// handleOllamaTags serves GET /api/tags: the combined model list rendered
// in Ollama's own shape, one-way only (spec.md §4.B).
func (s *Server) handleOllamaTags(w http.ResponseWriter, r *http.Request, kindOverride string) {
	names, err := s.combinedModelList(r.Context(), kindOverride)
	if err != nil {
		writeGatewayError(w, protocol.Ollama, gwerror.New(gwerror.Internal, 500, "list models: %v", err))
		return
	}
	httpResponseJSON(w, map[string]any{"models": convert.ToOllamaTags(names)}, http.StatusOK)
}

// handleOllamaShow serves POST /api/show: a synthesized modelfile-ish
// document, since no upstream dialect carries this level of detail.
func (s *Server) handleOllamaShow(w http.ResponseWriter, r *http.Request, kindOverride string) {
	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.Ollama, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		model = gjson.GetBytes(body, "name").String()
	}
	numCtx, numPredict := convert.NumCtxFor(model)
	httpResponseJSON(w, map[string]any{
		"modelfile": "# generated by relaygate\nFROM " + model,
		"parameters": map[string]any{
			"num_ctx":     numCtx,
			"num_predict": numPredict,
		},
		"details": map[string]any{
			"family":            "relaygate",
			"parameter_size":    "",
			"quantization_level": "",
		},
	}, http.StatusOK)
}

// handleOllamaChat serves POST /api/chat: converted through the canonical
// tree into whichever upstream dialect the resolved kind speaks, then
// rendered back into Ollama's response shape (one-way, spec.md §4.B).
func (s *Server) handleOllamaChat(w http.ResponseWriter, r *http.Request, kindOverride string) {
	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.Ollama, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	s.runOllama(w, r, body, model, kindOverride, false)
}

// handleOllamaGenerate serves POST /api/generate, the single-turn-prompt
// cousin of /api/chat.
func (s *Server) handleOllamaGenerate(w http.ResponseWriter, r *http.Request, kindOverride string) {
	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.Ollama, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	s.runOllama(w, r, body, model, kindOverride, true)
}

// runOllama implements the one-way Ollama surface (spec.md §4.B): the
// shared orchestrator already knows how to decode an Ollama-shaped
// request into the canonical tree (convert.ToCanonicalOllamaChat).
// generateShape picks which response envelope comes back out —
// /api/generate's {response, done, ...} (convert.FromCanonicalResponseOllamaGenerate)
// versus /api/chat's {message:{...}} (convert.FromCanonicalResponseToOllamaChat).
func (s *Server) runOllama(w http.ResponseWriter, r *http.Request, body []byte, rawModel string, pathKindOverride string, generateShape bool) {
	s.runGenerate(w, r, protocol.Ollama, body, rawModel, pathKindOverride, generateShape)
}
