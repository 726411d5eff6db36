package gateway

import (
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/relaygate/gateway/internal/gwerror"
	"github.com/relaygate/gateway/internal/protocol"
)

// readBody drains r.Body up to maxBodyBytes, mirroring the teacher's own
// request-size guard in internal/server/response.go.
func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
}

// handleOpenAIChat serves POST /v1/chat/completions (spec.md §4.A).
func (s *Server) handleOpenAIChat(w http.ResponseWriter, r *http.Request, kindOverride string) {
	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.OpenAIChat, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	if int64(len(body)) > maxBodyBytes {
		writeGatewayError(w, protocol.OpenAIChat, gwerror.New(gwerror.BadRequest, 400, "request body too large"))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	s.runGenerate(w, r, protocol.OpenAIChat, body, model, kindOverride, false)
}

// handleOpenAIResponses serves POST /v1/responses (spec.md §4.D): the
// Responses surface is always translated through the canonical tree since
// no upstream speaks it natively.
func (s *Server) handleOpenAIResponses(w http.ResponseWriter, r *http.Request, kindOverride string) {
	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.OpenAIResponses, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	if int64(len(body)) > maxBodyBytes {
		writeGatewayError(w, protocol.OpenAIResponses, gwerror.New(gwerror.BadRequest, 400, "request body too large"))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	s.runGenerate(w, r, protocol.OpenAIResponses, body, model, kindOverride, false)
}

// handleAnthropicMessages serves POST /v1/messages.
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request, kindOverride string) {
	body, err := readBody(r)
	if err != nil {
		writeGatewayError(w, protocol.Anthropic, gwerror.New(gwerror.BadRequest, 400, "read body: %v", err))
		return
	}
	if int64(len(body)) > maxBodyBytes {
		writeGatewayError(w, protocol.Anthropic, gwerror.New(gwerror.BadRequest, 400, "request body too large"))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	s.runGenerate(w, r, protocol.Anthropic, body, model, kindOverride, false)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]any{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write(s.metrics.PrometheusText())
}
