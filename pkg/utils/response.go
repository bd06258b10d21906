package utils

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/apperrors"
)

// RespondJSON writes payload as a JSON response.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// RespondError writes {"error": message}.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondFailure maps an application error to a status code. Internal
// details are logged, not returned.
func RespondFailure(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	}
	RespondError(w, status, http.StatusText(status))
}

// StatusOf returns the HTTP status for an application error.
func StatusOf(err error) int {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Kind {
	case apperrors.Validation:
		return http.StatusBadRequest
	case apperrors.NotAuthenticated:
		return http.StatusUnauthorized
	case apperrors.Transport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
