package gateway

import (
	"sync"
	"time"

	"github.com/relaygate/gateway/internal/protocol"
)

// thoughtSigTTL is how long cached thought_signature entries are kept,
// carried over verbatim from the teacher's internal/server/server.go.
const thoughtSigTTL = 30 * time.Minute

type thoughtSignatureEntry struct {
	signature string
	expiresAt time.Time
}

// thoughtSignatureCache caches Gemini thought_signature tokens keyed by
// tool-call ID, so a call-and-response round trip through an
// OpenAI-compatible client (which strips unknown fields when echoing tool
// calls back) can still restore the signature Gemini 2.5+ thinking models
// require on every functionCall part. Generalized here from the teacher's
// single Gemini-provider-only cache to run for any client dialect that
// dispatches to a gemini-protocol kind.
type thoughtSignatureCache struct {
	entries sync.Map // map[string]thoughtSignatureEntry
}

func newThoughtSignatureCache() *thoughtSignatureCache {
	return &thoughtSignatureCache{}
}

func (c *thoughtSignatureCache) store(toolCallID, signature string) {
	if toolCallID == "" || signature == "" {
		return
	}
	c.entries.Store(toolCallID, thoughtSignatureEntry{signature: signature, expiresAt: time.Now().Add(thoughtSigTTL)})
}

func (c *thoughtSignatureCache) lookup(toolCallID string) string {
	v, ok := c.entries.Load(toolCallID)
	if !ok {
		return ""
	}
	entry := v.(thoughtSignatureEntry)
	if time.Now().After(entry.expiresAt) {
		c.entries.Delete(toolCallID)
		return ""
	}
	return entry.signature
}

// restoreThoughtSignatures fills in any tool call missing a
// ThoughtSignature from the cache, keyed by the call's own ID, so a
// client that stripped the field on echo still dispatches correctly to a
// Gemini thinking model.
func (c *thoughtSignatureCache) restoreThoughtSignatures(req *protocol.Request) {
	for i := range req.Messages {
		for j := range req.Messages[i].ToolCalls {
			tc := &req.Messages[i].ToolCalls[j]
			if tc.ThoughtSignature == "" && tc.ID != "" {
				tc.ThoughtSignature = c.lookup(tc.ID)
			}
		}
	}
}

// cacheFromResponse stores every ThoughtSignature carried by resp's tool
// calls, keyed by their own ID, for later restoreThoughtSignatures calls.
func (c *thoughtSignatureCache) cacheFromResponse(resp *protocol.Response) {
	for _, tc := range resp.ToolCalls {
		c.store(tc.ID, tc.ThoughtSignature)
	}
}

func (c *thoughtSignatureCache) sweep() {
	now := time.Now()
	c.entries.Range(func(key, value any) bool {
		if entry := value.(thoughtSignatureEntry); now.After(entry.expiresAt) {
			c.entries.Delete(key)
		}
		return true
	})
}
