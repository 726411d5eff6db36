package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/relaygate/gateway/internal/config"
)

// authenticate validates the caller's credential against the configured
// auth tokens (spec.md §6's REQUIRED_API_KEY, generalized to the
// teacher's richer AuthTokenConfig scoping). A client may present the key
// as a bearer token, `x-api-key`, `x-goog-api-key`, or `?key=` query
// parameter — whichever the client dialect natively uses (spec.md §4.F).
//
// An empty AuthTokens list means the gateway runs unauthenticated,
// matching the teacher's posture when no token is configured.
func (s *Server) authenticate(r *http.Request) (*config.AuthTokenConfig, string) {
	if len(s.cfg.AuthTokens) == 0 {
		return nil, ""
	}

	presented := extractPresentedKey(r)
	if presented == "" {
		return nil, "missing credentials"
	}

	for i := range s.cfg.AuthTokens {
		tok := &s.cfg.AuthTokens[i]
		if tok.Token == "" || tok.Token != presented {
			continue
		}
		if tok.ExpiresAt != "" {
			expiresAt, err := time.Parse(time.RFC3339, tok.ExpiresAt)
			if err != nil {
				return nil, "configured token has invalid expires_at"
			}
			if expiresAt.Before(time.Now().UTC()) {
				return nil, "token has expired"
			}
		}
		return tok, ""
	}

	return nil, "invalid credentials"
}

func extractPresentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if bearer := strings.TrimPrefix(auth, "Bearer "); bearer != auth {
			return bearer
		}
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	if key := r.Header.Get("x-goog-api-key"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}

// tokenAllowsKind reports whether tok (nil meaning "no auth configured")
// permits dispatch to kind.
func tokenAllowsKind(tok *config.AuthTokenConfig, kind string) bool {
	if tok == nil || len(tok.AllowedProviders) == 0 {
		return true
	}
	for _, k := range tok.AllowedProviders {
		if k == kind {
			return true
		}
	}
	return false
}

// tokenAllowsModel reports whether tok (nil meaning "no auth configured")
// permits dispatch to model.
func tokenAllowsModel(tok *config.AuthTokenConfig, model string) bool {
	if tok == nil || len(tok.AllowedModels) == 0 {
		return true
	}
	for _, m := range tok.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}
