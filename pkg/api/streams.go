package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cuemby/meek/pkg/types"
)

type createStreamRequest struct {
	URL       string   `json:"url"`
	Name      string   `json:"name"`
	GroupRefs []string `json:"group_refs"`
}

// handleListStreams lists every registered stream.
func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.store.ListStreams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "list streams: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

// handleCreateStream registers a stream, immediately available as a
// source for a stream-kind task (spec.md §3).
func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := decodeJSON(r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "url is required")
		return
	}
	stream := &types.Stream{URL: req.URL, Name: req.Name, GroupRefs: req.GroupRefs}
	id, err := s.store.CreateStream(r.Context(), stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "create stream: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stream_id": id})
}

// handleDeleteStream removes a stream by id.
func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidInput, "invalid stream id")
		return
	}
	if err := s.store.DeleteStream(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, kindTransient, "delete stream: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
