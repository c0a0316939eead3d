// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatloop/messaging-core/internal/service"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Every distinct error condition stays distinguishable to the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	var cascade *service.CascadeError
	switch {
	case errors.As(err, &cascade):
		// The caller learns which step failed so a retry resumes there.
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "delete cascade failed",
			"step":  cascade.Step,
		})
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotAMember),
		errors.Is(err, service.ErrNotAuthorized),
		errors.Is(err, service.ErrCreatorMustDelete):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAlreadyMember):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotAGroup),
		errors.Is(err, service.ErrInvalidGroupName),
		errors.Is(err, service.ErrEmptyMemberSet),
		errors.Is(err, service.ErrGroupFull),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidAttachment):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
