package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/services"
	"github.com/nodesocial/apiserver/types"
)

// PostHandler provides HTTP handlers for posts.
type PostHandler struct {
	postService *services.PostService
	log         logging.Logger
}

func NewPostHandler(postService *services.PostService, log logging.Logger) *PostHandler {
	return &PostHandler{postService: postService, log: log}
}

// PostRouter registers post routes on the given router.
func PostRouter(r chi.Router, h *PostHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/", h.ListPosts)
	r.With(authMiddleware).Post("/", h.CreatePost)
}

type CreatePostRequest struct {
	Text string `json:"text"`
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	caller, ok := userFromContext(r.Context())
	if !ok {
		writeErr(w, r, h.log, errs.Unauthorized("unauthorized"))
		return
	}

	var req CreatePostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	post, err := h.postService.Create(r.Context(), caller, req.Text)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	posts, total, err := h.postService.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[types.Post]{
		Items: posts,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}
