package gateway

import (
	"net/http"

	"github.com/relaygate/gateway/internal/gwerror"
	"github.com/relaygate/gateway/internal/protocol"
)

// writeGatewayError renders e in dialect's error shape and writes it as
// the HTTP response (spec.md §7's per-dialect error envelope).
func writeGatewayError(w http.ResponseWriter, dialect protocol.Tag, e *gwerror.Error) {
	httpResponseJSONByte(w, gwerror.Envelope(e, dialect), e.Status)
}
