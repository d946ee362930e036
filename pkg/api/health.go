package api

import "net/http"

// handleHealthz is a plain liveness probe: if the process can answer
// HTTP at all, it's up. Readiness (store/bus reachability) is left to
// the caller's own retries, same as the teacher's health endpoint did
// for its gRPC counterpart.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
