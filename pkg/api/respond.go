package api

import (
	"encoding/json"
	"net/http"
)

// errorKind labels a failure with one of spec.md §7's error kinds, so
// the response body tells a caller what category of problem it hit
// (the kinds that can actually surface from an HTTP handler).
type errorKind string

const (
	kindTransient    errorKind = "transient_transport"
	kindInvalidInput errorKind = "invalid_input"
	kindConfig       errorKind = "configuration_error"
	kindNotFound     errorKind = "not_found"
	kindStatePrecond errorKind = "invalid_state"
)

type errorResponse struct {
	Error string    `json:"error"`
	Kind  errorKind `json:"kind"`
}

func writeError(w http.ResponseWriter, status int, kind errorKind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
