package handlers

import (
	"net/http"
	"time"
)

// ActiveCounter reports how many calls are currently live.
type ActiveCounter interface {
	ActiveCalls() int
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	Active ActiveCounter
	Start  time.Time
}

type healthResponse struct {
	Status      string `json:"status"`
	ActiveCalls int    `json:"active_calls"`
	UptimeSec   int64  `json:"uptime_sec"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.Active != nil {
		resp.ActiveCalls = h.Active.ActiveCalls()
	}
	if !h.Start.IsZero() {
		resp.UptimeSec = int64(time.Since(h.Start).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}
