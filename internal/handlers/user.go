package handlers

import (
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/services"
	"github.com/nodesocial/apiserver/internal/validate"
	"github.com/nodesocial/apiserver/types"
)

const (
	maxMultipartMemory = 1 << 20
	maxUploadBytes     = 4 << 20

	formFieldName     = "name"
	formFieldEmail    = "email"
	formFieldAbout    = "about"
	formFieldPassword = "password"
	formFieldPhoto    = "photo"
)

// UserHandler provides HTTP handlers for users, their photos and their
// connections.
type UserHandler struct {
	userService  *services.UserService
	photoService *services.PhotoIngestor
	postService  *services.PostService
	log          logging.Logger
}

// NewUserHandler constructs a handler with the provided services.
func NewUserHandler(
	userService *services.UserService,
	photoService *services.PhotoIngestor,
	postService *services.PostService,
	log logging.Logger,
) *UserHandler {
	return &UserHandler{
		userService:  userService,
		photoService: photoService,
		postService:  postService,
		log:          log,
	}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, h *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	owner := requireOwner(h.log)

	r.Post("/", h.Register)
	r.Get("/", h.ListUsers)
	r.Route("/{userID}", func(r chi.Router) {
		r.Use(ResolveUser(h.userService, h.log, "userID"))

		r.With(authMiddleware).Get("/", h.GetUser)
		r.With(authMiddleware, owner).Put("/", h.UpdateUser)
		r.With(authMiddleware, owner).Delete("/", h.DeleteUser)

		r.Get("/photo", h.GetPhoto)
		r.With(authMiddleware, owner).Put("/photo", h.PutPhoto)

		r.Get("/followers", h.Followers)
		r.Get("/following", h.Following)
		r.Get("/posts", h.Posts)
	})
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.Registration
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	user, err := h.userService.Register(r.Context(), req)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	users, total, err := h.userService.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[types.User]{
		Items: users,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	profile, _ := profileFromContext(r.Context())
	writeJSON(w, http.StatusOK, profile)
}

// UpdateUser accepts either a JSON body or a multipart form with an optional
// photo part. Fields left out keep their stored values.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	profile, _ := profileFromContext(r.Context())

	var (
		req ProfileUpdateRequest
		err error
	)
	if isMultipart(r) {
		req, err = parseProfileForm(w, r)
	} else {
		err = decodeJSON(w, r, &req)
	}
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	updated, err := h.userService.UpdateProfile(r.Context(), profile, req.input(profile))
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	profile, _ := profileFromContext(r.Context())
	if err := h.userService.Delete(r.Context(), profile.ID); err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	profile, _ := profileFromContext(r.Context())
	data, contentType, err := h.photoService.Serve(r.Context(), profile.ID)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// PutPhoto replaces the photo from the "photo" part of a multipart form.
func (h *UserHandler) PutPhoto(w http.ResponseWriter, r *http.Request) {
	profile, _ := profileFromContext(r.Context())
	if !isMultipart(r) {
		writeErr(w, r, h.log, errs.Validation("multipart form with a photo is required"))
		return
	}

	req, err := parseProfileForm(w, r)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	if req.Photo == nil {
		writeErr(w, r, h.log, errs.Validation("Photo is required"))
		return
	}

	updated, err := h.photoService.Ingest(r.Context(), profile, *req.Photo)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *UserHandler) Followers(w http.ResponseWriter, r *http.Request) {
	h.connections(w, r, true)
}

func (h *UserHandler) Following(w http.ResponseWriter, r *http.Request) {
	h.connections(w, r, false)
}

func (h *UserHandler) connections(w http.ResponseWriter, r *http.Request, followers bool) {
	profile, _ := profileFromContext(r.Context())
	summaries, err := h.userService.Connections(r.Context(), profile, followers)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *UserHandler) Posts(w http.ResponseWriter, r *http.Request) {
	profile, _ := profileFromContext(r.Context())
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeErr(w, r, h.log, err)
		return
	}

	posts, total, err := h.postService.ListByAuthor(r.Context(), profile.ID, offset, limit)
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

// ProfileUpdateRequest is a profile edit. Nil fields are left unchanged.
// Relationship lists are not part of it and are ignored when sent.
type ProfileUpdateRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	About    *string `json:"about"`
	Password *string `json:"password"`

	Photo *services.PhotoUpload `json:"-"`
}

func (req ProfileUpdateRequest) input(current types.User) services.ProfileInput {
	in := services.ProfileInput{
		Name:     current.Name,
		Email:    current.Email,
		About:    current.About,
		Password: req.Password,
		Photo:    req.Photo,
	}
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Email != nil {
		in.Email = *req.Email
	}
	if req.About != nil {
		in.About = *req.About
	}
	return in
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func parseProfileForm(w http.ResponseWriter, r *http.Request) (ProfileUpdateRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return ProfileUpdateRequest{}, errs.Validation("invalid multipart form")
	}

	var req ProfileUpdateRequest
	for field, dst := range map[string]**string{
		formFieldName:     &req.Name,
		formFieldEmail:    &req.Email,
		formFieldAbout:    &req.About,
		formFieldPassword: &req.Password,
	} {
		if values, ok := r.MultipartForm.Value[field]; ok && len(values) > 0 {
			value := values[0]
			*dst = &value
		}
	}

	photo, err := parsePhotoFile(r.MultipartForm)
	if err != nil {
		return ProfileUpdateRequest{}, err
	}
	req.Photo = photo
	return req, nil
}

func parsePhotoFile(form *multipart.Form) (*services.PhotoUpload, error) {
	files := form.File[formFieldPhoto]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errs.Validation("only one photo is allowed")
	}

	fileHeader := files[0]
	if err := validate.PhotoSize(fileHeader.Size); err != nil {
		return nil, err
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, errs.Storage("failed to read photo", err)
	}
	defer file.Close()

	data, err := readFileLimited(file, types.MaxPhotoBytes)
	if err != nil {
		return nil, errs.Storage("failed to read photo", err)
	}
	return &services.PhotoUpload{
		ContentType: strings.TrimSpace(fileHeader.Header.Get("Content-Type")),
		Data:        data,
	}, nil
}
