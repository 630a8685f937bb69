package verification

import (
	"encoding/json"
	"net/http"

	"github.com/bissquit/mention-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler serves the verifier callback.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new verification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers verification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/verifications", h.Confirm)
}

// ConfirmRequest is the body sent by the verifier.
type ConfirmRequest struct {
	State        string `json:"state" validate:"required"`
	SourceUserID string `json:"source_user_id" validate:"required,numeric"`
}

// ConfirmResponse describes the verified subscription.
type ConfirmResponse struct {
	RecipientID string `json:"recipient_id"`
	Handle      string `json:"handle"`
	Verified    bool   `json:"verified"`
}

var confirmErrors = []httputil.ErrorMapping{
	{Error: ErrInvalidToken, Status: http.StatusBadRequest, Message: "invalid state token"},
	{Error: ErrTokenExpired, Status: http.StatusBadRequest},
	{Error: ErrRecipientNotFound, Status: http.StatusNotFound},
	{Error: ErrUserMismatch, Status: http.StatusConflict},
	{Error: ErrHandleChanged, Status: http.StatusConflict},
}

// Confirm handles POST /verifications.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.Confirm(r.Context(), req.State, req.SourceUserID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, confirmErrors)
		return
	}

	httputil.Success(w, http.StatusOK, ConfirmResponse{
		RecipientID: sub.RecipientID,
		Handle:      sub.Handle,
		Verified:    sub.Verified,
	})
}
