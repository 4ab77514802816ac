package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/Morgan141414/ViewPersonal/internal/event"
)

// Header names per source class. Edge producers (AI service, positioning
// collector) and manual/administrative submission carry different trust
// levels and therefore different keys.
const (
	edgeKeyHeader   = "X-AI-Api-Key"
	manualKeyHeader = "X-Api-Key"
)

// keyRing holds the configured shared API keys. An empty key disables the
// check for that class (local development).
type keyRing struct {
	edge   string
	manual string
}

func keyMatches(got, want string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireEdgeKey guards the edge ingestion endpoints.
func (h *Handler) requireEdgeKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !keyMatches(r.Header.Get(edgeKeyHeader), h.keys.edge) {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("%s: invalid or missing API key", event.ErrUnauthorized))
			return
		}
		next(w, r)
	}
}

// requireManualKey guards the manual event submission endpoints.
func (h *Handler) requireManualKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !keyMatches(r.Header.Get(manualKeyHeader), h.keys.manual) {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("%s: invalid or missing API key", event.ErrUnauthorized))
			return
		}
		next(w, r)
	}
}
