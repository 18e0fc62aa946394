package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/gateway/budget"
	"github.com/anyllm/gateway/internal/gateway/generate"
	"github.com/anyllm/gateway/internal/gateway/providers"
)

// statusForError maps the gateway error taxonomy onto HTTP statuses.
// Credential failures are all 401 with distinct messages; admission
// failures get their own statuses so clients can tell them apart from
// authentication problems.
func statusForError(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidCredential),
		errors.Is(err, auth.ErrExpiredCredential):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrMasterUserRequired):
		return http.StatusBadRequest
	case errors.Is(err, budget.ErrAccountBlocked):
		return http.StatusForbidden
	case errors.Is(err, budget.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, budget.ErrUnknownUser):
		return http.StatusNotFound
	case errors.Is(err, providers.ErrGeminiNotConfigured),
		errors.Is(err, auth.ErrNoSigningSecret):
		return http.StatusInternalServerError
	case errors.Is(err, generate.ErrEmptyResult):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusForError(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
