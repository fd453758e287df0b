package handlers

import (
	"net/http"

	"github.com/outdial-ai/outdial/pkg/gateway/apierror"
)

// NotFoundHandler is the mux fallback for unrouted paths, keeping 404s
// in the JSON envelope the rest of the surface speaks.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, apierror.NotFound("not found"))
}
