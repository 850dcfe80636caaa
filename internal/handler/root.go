package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Check reports whether a dependency is usable.
type Check func() error

// ServeHealth answers 200 when every check passes and 503 otherwise, with
// the failing checks in the body.
func ServeHealth(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := map[string]string{}
		for name, check := range checks {
			if err := check(); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			slog.WarnContext(r.Context(), "failed to write health response", "error", err)
		}
	}
}
