package api

import (
	"io"
	"net/http"
)

// handleCallback is the HTTP-transport equivalent of the MQTT result
// topic (SPEC_FULL.md §6.1): a worker node that can't reach the bus
// reports a subtask result by posting it here instead.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "read request body: "+err.Error())
		return
	}
	if err := s.ingester.HandleCallback(body); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "invalid callback payload: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
