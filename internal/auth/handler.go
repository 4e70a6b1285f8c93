package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"file-service/internal/apperr"
	"file-service/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const resetRequestedMessage = "If an account exists for this email, a password reset link has been sent."

type Handler struct {
	service       *Service
	tokens        *TokenIssuer
	secureCookies bool
	logger        *slog.Logger
	validator     *validator.Validate
}

func NewHandler(service *Service, tokens *TokenIssuer, secureCookies bool, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		tokens:        tokens,
		secureCookies: secureCookies,
		logger:        logger,
		validator:     validator.New(),
	}
}

// RegisterRoutes mounts the public /auth endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/password-reset", h.RequestPasswordReset)
	r.Post("/auth/password-reset/confirm", h.ConfirmPasswordReset)
}

// RegisterProtectedRoutes mounts endpoints that need an authenticated caller.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", apperr.ErrValidation)
	}
	if err := h.validator.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// Login authenticates a user
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decode(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "user logged in", "user_id", resp.User.ID, "role", resp.User.Role)

	SetAuthCookie(w, resp.Access, h.tokens.TTL(), h.secureCookies)
	httputil.RespondWithJSON(w, http.StatusOK, resp)
}

// Refresh rotates the refresh token and issues a new access token
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := h.decode(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	resp, err := h.service.Refresh(r.Context(), req.Refresh)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	SetAuthCookie(w, resp.Access, h.tokens.TTL(), h.secureCookies)
	httputil.RespondWithJSON(w, http.StatusOK, resp)
}

// Logout invalidates the refresh token
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := h.decode(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	if err := h.service.Logout(r.Context(), req.Refresh); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	ClearAuthCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset answers the same way whether or not the email is known.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := h.decode(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if !errors.Is(err, apperr.ErrMailUnavailable) {
			httputil.RespondWithAppError(w, r, h.logger, err)
			return
		}
		h.logger.WarnContext(r.Context(), "password reset email not delivered", "error", err)
	}

	httputil.RespondWithJSON(w, http.StatusAccepted, MessageResponse{Message: resetRequestedMessage})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirm
	if err := h.decode(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}

	ClearAuthCookie(w, h.secureCookies)
	httputil.RespondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset successfully."})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Me(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, profile)
}
