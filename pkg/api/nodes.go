package api

import "net/http"

// handleListNodes reports the live node registry snapshot (spec.md §4.4).
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "list nodes: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}
