package api

import (
	"encoding/json"
	"net/http"

	"github.com/example/bank-ledger/internal/security"
)

// writeJSON renders a success payload. The correlation ID rides the response
// header as well as the body, so clients and log lines can be matched either
// way.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if cid := security.CorrelationIDFromContext(r.Context()); cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
