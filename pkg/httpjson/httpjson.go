// Package httpjson writes JSON responses and error envelopes.
package httpjson

import (
	"encoding/json"
	"net/http"
)

func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Raw writes an already encoded JSON body.
func Raw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes {"error": body}.
func Error(w http.ResponseWriter, status int, body any) {
	Write(w, status, map[string]any{"error": body})
}

// Message writes {"error": {"kind": kind, "message": msg}}.
func Message(w http.ResponseWriter, status int, kind, msg string) {
	Error(w, status, map[string]string{"kind": kind, "message": msg})
}
