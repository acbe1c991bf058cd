package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/services"
)

// FollowHandler provides the follow and unfollow endpoints.
type FollowHandler struct {
	relationships *services.RelationshipService
	log           logging.Logger
}

func NewFollowHandler(relationships *services.RelationshipService, log logging.Logger) *FollowHandler {
	return &FollowHandler{relationships: relationships, log: log}
}

// FollowRouter registers follow routes on the users router. Both need auth.
func FollowRouter(r chi.Router, h *FollowHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Put("/follow", h.Follow)
	r.With(authMiddleware).Put("/unfollow", h.Unfollow)
}

type FollowRequest struct {
	FollowID string `json:"followId"`
}

type UnfollowRequest struct {
	UnfollowID string `json:"unfollowId"`
}

func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeErr(w, r, h.log, errs.Unauthorized("unauthorized"))
		return
	}

	var req FollowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	targetID, err := parseTargetID(req.FollowID, "followId")
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	result, err := h.relationships.Follow(r.Context(), caller.ID, targetID)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *FollowHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeErr(w, r, h.log, errs.Unauthorized("unauthorized"))
		return
	}

	var req UnfollowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	targetID, err := parseTargetID(req.UnfollowID, "unfollowId")
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	result, err := h.relationships.Unfollow(r.Context(), caller.ID, targetID)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseTargetID requires a value; a value that is not a valid id names no
// user.
func parseTargetID(raw, field string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, errs.Validation(field + " is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.NotFound("user not found")
	}
	return id, nil
}
