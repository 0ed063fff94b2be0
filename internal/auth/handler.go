package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/mkravets/chimera/internal/api"
	"github.com/mkravets/chimera/internal/domain"
	"github.com/mkravets/chimera/internal/prefs"
)

// Handler exposes the account endpoints.
type Handler struct {
	svc *Service
	agg *prefs.Aggregator
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, agg *prefs.Aggregator) *Handler {
	return &Handler{svc: svc, agg: agg}
}

// RegisterRoutes mounts the auth endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.With(h.svc.Require()).Get("/auth/me", h.handleMe)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, token, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errdefs.IsInvalidArgument(err):
			api.Error(w, http.StatusBadRequest, err.Error())
		case errdefs.IsConflict(err):
			api.Error(w, http.StatusConflict, "email already registered")
		default:
			slog.Error("Registration failed", "error", err)
			api.Error(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	api.JSON(w, http.StatusCreated, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errdefs.IsUnauthorized(err) {
			api.Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		slog.Error("Login failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	api.JSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type meResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	PreferredPersona string `json:"preferred_persona"`
	TotalQueries     int    `json:"total_queries"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	user, err := h.svc.User(r.Context(), userID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			api.Error(w, http.StatusUnauthorized, "account no longer exists")
			return
		}
		slog.Error("Account lookup failed", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "account lookup failed")
		return
	}

	resp := meResponse{
		ID:               user.UserID,
		Email:            user.Email,
		PreferredPersona: user.PreferredPersona,
	}
	if profile, err := h.agg.GetProfile(r.Context(), userID); err == nil {
		resp.TotalQueries = profile.TotalQueries
		if profile.PreferredPersona != "" {
			resp.PreferredPersona = profile.PreferredPersona
		}
	}
	if resp.PreferredPersona == "" {
		resp.PreferredPersona = domain.DefaultPersona
	}

	api.JSON(w, http.StatusOK, resp)
}
