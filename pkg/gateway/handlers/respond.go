package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// maxBodyBytes caps every request body this surface accepts. The largest
// legitimate payload is one recognized utterance.
const maxBodyBytes = 1 << 20

// ackResponse is the acknowledgement shape webhook callers poll for.
type ackResponse struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id,omitempty"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeJSON sends v with the given status and a JSON content type.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logOr returns l, or the process default when the handler was built
// without a logger.
func logOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
