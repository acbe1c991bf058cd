package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nodesocial/apiserver/internal/auth"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/services"
	"github.com/nodesocial/apiserver/types"
)

// AuthHandler provides JWT authentication endpoints.
type AuthHandler struct {
	authn       *auth.Authenticator
	userService *services.UserService
	log         logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authn *auth.Authenticator, userService *services.UserService, log logging.Logger) *AuthHandler {
	return &AuthHandler{
		authn:       authn,
		userService: userService,
		log:         log,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	r.Post("/signin", h.Signin)
	r.With(h.RequireAuth).Get("/me", h.Me)
}

// RequireAuth enforces JWT authentication and injects the caller into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return RequireAuth(h.authn, h.log)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(authn *auth.Authenticator, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r)
			if err != nil {
				writeErr(w, r, log, errs.Unauthorized("unauthorized"))
				return
			}

			user, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				writeErr(w, r, log, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Signin verifies credentials and returns a JWT.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeErr(w, r, h.log, errs.Validation("Email and password are required"))
		return
	}

	user, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	token, err := h.authn.Issue(user.ID)
	if err != nil {
		writeErr(w, r, h.log, errs.Storage("failed to create token", err))
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeErr(w, r, h.log, errs.Unauthorized("unauthorized"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}
