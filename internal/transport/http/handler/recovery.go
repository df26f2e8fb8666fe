package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-otc-api/internal/application/challenge"
	"github.com/go-otc-api/internal/application/provisioning"
	"github.com/go-otc-api/internal/domain"
	"github.com/go-otc-api/internal/pkg/validate"
)

// RecoveryHandler handles the password recovery flow.
type RecoveryHandler struct {
	challenges   challenge.Service
	provisioning provisioning.Service
}

func NewRecoveryHandler(ch challenge.Service, pr provisioning.Service) *RecoveryHandler {
	return &RecoveryHandler{challenges: ch, provisioning: pr}
}

func (h *RecoveryHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "request":
		var req domain.IssueChallengeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err := h.challenges.IssueRecovery(r.Context(), req.Email); err != nil {
			httpError(w, err)
			return
		}
		// Same body whether or not the account exists.
		writeJSON(w, http.StatusOK, StatusEnvelope{Success: true, Message: challenge.GenericRecoveryMessage})
	case "complete":
		var req domain.CompletePasswordResetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err := h.provisioning.CompletePasswordReset(r.Context(), req); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusEnvelope{Success: true})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
