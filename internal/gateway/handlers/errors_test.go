package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/gateway/budget"
	"github.com/anyllm/gateway/internal/gateway/generate"
	"github.com/anyllm/gateway/internal/gateway/providers"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{auth.ErrInvalidCredential, http.StatusUnauthorized},
		{auth.ErrExpiredCredential, http.StatusUnauthorized},
		{auth.ErrMasterUserRequired, http.StatusBadRequest},
		{budget.ErrAccountBlocked, http.StatusForbidden},
		{budget.ErrBudgetExceeded, http.StatusPaymentRequired},
		{budget.ErrUnknownUser, http.StatusNotFound},
		{providers.ErrGeminiNotConfigured, http.StatusInternalServerError},
		{auth.ErrNoSigningSecret, http.StatusInternalServerError},
		{generate.ErrEmptyResult, http.StatusBadGateway},
		{errors.New("something else"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), "error %v", tc.err)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, budget.ErrBudgetExceeded)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"budget exceeded"}`, rec.Body.String())
}
