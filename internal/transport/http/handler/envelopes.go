package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-otc-api/internal/domain"
)

// StatusEnvelope is the generic response wrapper.
type StatusEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SignupEnvelope wraps a completed signup.
type SignupEnvelope struct {
	Success     bool   `json:"success"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, StatusEnvelope{Error: msg})
}

// httpError maps domain sentinels onto the three response tiers: actionable
// client errors, not-found, and generic retry-suggesting infrastructure
// failures whose detail stays in the server logs.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrInvalidOrExpiredCode),
		errors.Is(err, domain.ErrWeakCredential),
		errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDeliveryUnavailable):
		writeError(w, http.StatusBadGateway, "could not deliver the code, try again later")
	default:
		writeError(w, http.StatusInternalServerError, "temporary failure, try again later")
	}
}
