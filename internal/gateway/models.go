package gateway

import (
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/relaygate/gateway/internal/convert"
	"github.com/relaygate/gateway/internal/gwerror"
	"github.com/relaygate/gateway/internal/modelname"
	"github.com/relaygate/gateway/internal/protocol"
)

// listUpstreamModelIDs extracts the bare model IDs an adapter's ListModels
// call returned, parsing whichever of the three vendor shapes dialect
// implies (spec.md §4.H: OpenAI/Anthropic nest under "data", Gemini under
// "models").
func listUpstreamModelIDs(dialect protocol.Tag, body []byte) []string {
	var ids []string
	switch dialect {
	case protocol.Gemini:
		gjson.GetBytes(body, "models").ForEach(func(_, v gjson.Result) bool {
			name := v.Get("name").String()
			// Gemini model names are "models/<id>"; keep only <id>.
			if i := lastSlash(name); i >= 0 {
				name = name[i+1:]
			}
			if name != "" {
				ids = append(ids, name)
			}
			return true
		})
	default: // openai_chat, anthropic both nest a "data" array with an "id" field
		gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
			if id := v.Get("id").String(); id != "" {
				ids = append(ids, id)
			}
			return true
		})
	}
	return ids
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// combinedModelList gathers every kind's model IDs (one adapter call per
// kind, via whichever entry Select currently rotates to), prefixing each
// with its display label (spec.md §4.H), optionally restricted to a
// single kind by kindOverride.
func (s *Server) combinedModelList(ctx context.Context, kindOverride string) ([]string, error) {
	kinds := s.pool.Kinds()
	if kindOverride != "" {
		kinds = []string{kindOverride}
	}

	var out []string
	for _, kind := range kinds {
		_, a, err := s.pool.Select(kind, "")
		if err != nil {
			continue // kind has no healthy entry; skip it from the combined list
		}
		body, err := a.ListModels(ctx)
		if err != nil {
			continue
		}
		for _, id := range listUpstreamModelIDs(protocol.TagOf(kind), body) {
			out = append(out, modelname.Display(kind, id))
		}
	}
	return out, nil
}

// handleListModels serves GET /v1/models and GET /v1beta/models (spec.md
// §4.H): the combined, display-prefixed model list across every
// configured pool kind, rendered in whichever dialect's shape the path
// implies.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request, kindOverride string, geminiShape bool) {
	names, err := s.combinedModelList(r.Context(), kindOverride)
	if err != nil {
		writeGatewayError(w, protocol.OpenAIChat, gwerror.New(gwerror.Internal, 500, "list models: %v", err))
		return
	}

	if geminiShape {
		models := make([]map[string]any, 0, len(names))
		for _, n := range names {
			models = append(models, map[string]any{
				"name":        "models/" + n,
				"displayName": n,
			})
		}
		httpResponseJSON(w, map[string]any{"models": models}, http.StatusOK)
		return
	}

	data := make([]map[string]any, 0, len(names))
	for _, n := range names {
		data = append(data, map[string]any{"id": n, "object": "model", "owned_by": "relaygate"})
	}
	httpResponseJSON(w, map[string]any{"object": "list", "data": data}, http.StatusOK)
}

// handleGeminiGenerate serves POST /v1beta/models/{model}:(generateContent|
// streamGenerateContent) (spec.md §4.B). modelAndMethod is the path
// segment following "/v1beta/models/", still carrying the ":method" suffix.
func (s *Server) handleGeminiGenerate(w http.ResponseWriter, r *http.Request, kindOverride, modelAndMethod string) {
	model, stream := splitGeminiModelMethod(modelAndMethod)

	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.Gemini, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	if int64(len(body)) > maxBodyBytes {
		writeGatewayError(w, protocol.Gemini, gwerror.New(gwerror.BadRequest, 400, "request body too large"))
		return
	}

	// Gemini's request body carries no "model"/"stream" field of its own
	// (both live in the URL); streamOverride lets runGenerate know which
	// method the client actually asked for.
	s.runGenerate(w, r, protocol.Gemini, body, model, kindOverride, false, stream)
}

// handleGeminiGetModel serves GET /v1beta/models/{model} with a synthetic
// model-info document; Gemini's GetModel call carries no generation
// semantics for the orchestrator to run.
func (s *Server) handleGeminiGetModel(w http.ResponseWriter, r *http.Request, kindOverride, model string) {
	numCtx, numPredict := convert.NumCtxFor(model)
	httpResponseJSON(w, map[string]any{
		"name":                       "models/" + model,
		"displayName":                model,
		"inputTokenLimit":            numCtx,
		"outputTokenLimit":           numPredict,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
	}, http.StatusOK)
}

// splitGeminiModelMethod parses "gemini-2.5-pro:streamGenerateContent" (the
// "?alt=sse" query, if present, is stripped by net/http's path parsing
// already) into the bare model id and whether the caller asked to stream.
func splitGeminiModelMethod(modelAndMethod string) (model string, stream bool) {
	for i := len(modelAndMethod) - 1; i >= 0; i-- {
		if modelAndMethod[i] == ':' {
			return modelAndMethod[:i], modelAndMethod[i+1:] == "streamGenerateContent"
		}
	}
	return modelAndMethod, false
}
