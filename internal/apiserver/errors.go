package apiserver

import (
	"fmt"
	"net/http"

	"github.com/moolen/sleuth/internal/api"
)

// handleMethodNotAllowed handles 405 responses
func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	api.WriteError(w, http.StatusMethodNotAllowed, api.ErrorCodeMethodNotAllowed,
		fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path))
}
