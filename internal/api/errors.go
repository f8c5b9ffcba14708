package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	httpErrorNotice(w, code, errType, "", format, args...)
}

// httpErrorNotice writes the error envelope with an optional top-level notice
// for the visitor.
func httpErrorNotice(w http.ResponseWriter, code int, errType, notice string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	}
	if notice != "" {
		body["notice"] = notice
	}
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
