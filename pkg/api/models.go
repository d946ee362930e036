package api

import "net/http"

// handleModelSync triggers an on-demand model-marketplace sync
// (SPEC_FULL.md §6.2). Gated behind requireAPIKey in routes().
func (s *Server) handleModelSync(w http.ResponseWriter, r *http.Request) {
	if s.modelSync == nil {
		writeError(w, http.StatusServiceUnavailable, kindConfig, "model sync is not configured")
		return
	}
	if err := s.modelSync.Sync(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "model sync: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
