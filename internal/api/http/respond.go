package http

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail emits the {"detail": ...} error body.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// writeFieldErrors emits the field-keyed body, e.g. {"file": ["too large"]}.
func writeFieldErrors(w http.ResponseWriter, status int, field string, msgs ...string) {
	writeJSON(w, status, map[string][]string{field: msgs})
}
