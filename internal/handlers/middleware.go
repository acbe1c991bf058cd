package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/services"
)

// ResolveUser loads the user named by the param path parameter once per
// request and stores it in the context. An unknown or malformed id ends the
// request with 404 before any handler runs.
func ResolveUser(userService *services.UserService, log logging.Logger, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := uuid.Parse(chi.URLParam(r, param))
			if err != nil {
				writeErr(w, r, log, errs.NotFound("user not found"))
				return
			}

			user, err := userService.Get(r.Context(), id)
			if err != nil {
				writeErr(w, r, log, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextProfileKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireOwner lets the request through only when the authenticated caller
// is the resolved user. It must run after RequireAuth and ResolveUser.
func requireOwner(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := userFromContext(r.Context())
			if !ok {
				writeErr(w, r, log, errs.Unauthorized("unauthorized"))
				return
			}
			profile, ok := profileFromContext(r.Context())
			if !ok {
				writeErr(w, r, log, errs.NotFound("user not found"))
				return
			}
			if caller.ID != profile.ID {
				writeErr(w, r, log, errs.Forbidden("User is not authorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
