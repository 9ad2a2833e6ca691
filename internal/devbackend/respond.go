package devbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// errorMessagePrefix is how the production backend prefixes validation messages.
const errorMessagePrefix = "Hata mesajı : "

type errorEnvelope struct {
	StatusCode int      `json:"StatusCode"`
	Errors     []string `json:"Errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, format, args...)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{StatusCode: status, Errors: []string{errorMessagePrefix + message}})
}

// decodeBody reads a JSON body into v, answering 400 when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Request body is invalid")
		return false
	}
	return true
}
