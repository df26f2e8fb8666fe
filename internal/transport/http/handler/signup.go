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

// SignupHandler handles the email-verified signup flow.
type SignupHandler struct {
	challenges   challenge.Service
	provisioning provisioning.Service
}

func NewSignupHandler(ch challenge.Service, pr provisioning.Service) *SignupHandler {
	return &SignupHandler{challenges: ch, provisioning: pr}
}

func (h *SignupHandler) Action(w http.ResponseWriter, r *http.Request) {
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
		if err := h.challenges.IssueSignup(r.Context(), req.Email); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusEnvelope{Success: true})
	case "complete":
		var req domain.CompleteSignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		result, err := h.provisioning.CompleteSignup(r.Context(), req)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, SignupEnvelope{
			Success:     true,
			UserID:      result.AccountID,
			AccessToken: result.AccessToken,
		})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
