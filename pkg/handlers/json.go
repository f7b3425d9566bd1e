// JSON response helpers shared by all endpoints.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"Soundlytics/pkg/auth"
	"Soundlytics/pkg/music"
)

// writeJSON encodes v as the response body. Encoding failures are logged
// rather than surfaced since the status line is already out.
func (app *Application) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Log.WithField("path", r.URL.Path).WithError(err).Error("encode response")
	}
}

// writeError maps library errors to status codes. Authentication failures
// become 401, invalid input 400, client-abandoned requests are logged and
// dropped, anything else is a 500.
func (app *Application) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		http.Error(w, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, music.ErrNoTrackIDs):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		app.Log.WithField("path", r.URL.Path).Debug("request abandoned")
	default:
		app.Log.WithField("path", r.URL.Path).WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
