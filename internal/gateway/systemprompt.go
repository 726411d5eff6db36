package gateway

import (
	"os"

	"github.com/relaygate/gateway/internal/protocol"
	"github.com/relaygate/gateway/internal/render"
)

// loadSystemPrompt reads the gateway's configured system-prompt file. It is
// read once at startup rather than per-request, matching the teacher's
// posture that process config is immutable without a restart.
func loadSystemPrompt(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// applySystemPrompt implements spec.md §4.F step 5 on the already-decoded
// canonical request: render the configured system-prompt template against
// kind/model, then per SYSTEM_PROMPT_MODE either leave req untouched
// ("off"), prepend a new system message ahead of any existing one
// ("append"), or replace every existing system message with the rendered
// one ("override").
func (s *Server) applySystemPrompt(req *protocol.Request, kind string) error {
	mode := s.cfg.SystemPromptMode
	if mode == "off" || s.systemPrompt == "" {
		return nil
	}

	rendered, err := render.ExecuteWithData(s.systemPrompt, map[string]any{
		"kind":  kind,
		"model": req.Model,
	})
	if err != nil {
		return err
	}

	systemMsg := protocol.Message{Role: protocol.RoleSystem, Parts: []protocol.ContentPart{protocol.Text(string(rendered))}}

	switch mode {
	case "override":
		kept := req.Messages[:0]
		for _, m := range req.Messages {
			if m.Role != protocol.RoleSystem {
				kept = append(kept, m)
			}
		}
		req.Messages = append([]protocol.Message{systemMsg}, kept...)
	case "append":
		req.Messages = append([]protocol.Message{systemMsg}, req.Messages...)
	}
	return nil
}
