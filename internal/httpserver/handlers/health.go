package handlers

import "net/http"

// NewHealthHandler returns the liveness probe.
func NewHealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": service,
		})
	}
}
