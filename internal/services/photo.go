package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/lock"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/storage"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/internal/validate"
	"github.com/nodesocial/apiserver/types"
)

// PhotoRepository defines the record operations the ingestor needs.
type PhotoRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	SetPhoto(ctx context.Context, id uuid.UUID, photo types.Photo) (types.User, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (types.Photo, error)
}

// PhotoBlobs stores photo bytes outside the user record.
// *storage.Storage implements it.
type PhotoBlobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// PhotoUpload is a photo submitted by a client.
type PhotoUpload struct {
	ContentType string
	Data        []byte
}

// PhotoIngestor validates and replaces profile photos. With nil blobs the
// bytes are kept inline in the user record.
type PhotoIngestor struct {
	repo     PhotoRepository
	blobs    PhotoBlobs
	locks    lock.Locker
	log      logging.Logger
	settings Settings
}

func NewPhotoIngestor(
	repo PhotoRepository,
	blobs PhotoBlobs,
	locks lock.Locker,
	log logging.Logger,
	settings Settings,
) *PhotoIngestor {
	return &PhotoIngestor{
		repo:     repo,
		blobs:    blobs,
		locks:    locks,
		log:      log,
		settings: settings.normalized(),
	}
}

// Ingest replaces the photo of user with upload and returns the updated
// record. The previous blob is discarded once the new one is committed.
func (p *PhotoIngestor) Ingest(ctx context.Context, user types.User, upload PhotoUpload) (types.User, error) {
	upload, err := checkUpload(upload)
	if err != nil {
		return types.User{}, err
	}

	ctx, err = begin(ctx)
	if err != nil {
		return types.User{}, err
	}
	unlock, err := p.lockUser(ctx, user.ID)
	if err != nil {
		return types.User{}, err
	}
	defer unlock()

	var current types.User
	err = p.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		current, err = p.repo.GetByID(ctx, user.ID)
		return err
	})
	if err != nil {
		return types.User{}, userLookupError(err)
	}

	staged, err := p.stage(ctx, user.ID, upload)
	if err != nil {
		return types.User{}, err
	}

	var updated types.User
	err = p.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		updated, err = p.repo.SetPhoto(ctx, user.ID, staged)
		return err
	})
	if err != nil {
		p.discard(ctx, &staged)
		return types.User{}, userWriteError(err)
	}
	p.discard(ctx, current.Photo)
	return updated, nil
}

// Serve returns the photo bytes and content type of a user.
func (p *PhotoIngestor) Serve(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	var photo types.Photo
	err := p.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		photo, err = p.repo.GetPhoto(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", errs.NotFound("photo not found")
		}
		return nil, "", errs.Storage("failed to load photo", err)
	}

	if photo.Key == "" {
		return photo.Data, photo.ContentType, nil
	}
	if p.blobs == nil {
		return nil, "", errs.Storage("photo is in object storage but no backend is configured", nil)
	}

	var data []byte
	err = p.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		data, err = p.blobs.Read(ctx, photo.Key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return store.ErrNotFound
		}
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", errs.NotFound("photo not found")
		}
		return nil, "", errs.Storage("failed to read photo", err)
	}
	return data, photo.ContentType, nil
}

// stage makes upload durable without touching the user record. For inline
// storage the returned photo carries the bytes.
func (p *PhotoIngestor) stage(ctx context.Context, userID uuid.UUID, upload PhotoUpload) (types.Photo, error) {
	photo := types.Photo{
		ContentType: upload.ContentType,
		Size:        int64(len(upload.Data)),
	}
	if p.blobs == nil {
		photo.Data = upload.Data
		return photo, nil
	}

	photo.Key = storage.NewPhotoKey(userID)
	err := p.settings.retry(ctx, func(ctx context.Context) error {
		return p.blobs.Put(ctx, photo.Key, upload.Data, upload.ContentType)
	})
	if err != nil {
		return types.Photo{}, errs.Storage("failed to store photo", err)
	}
	return photo, nil
}

// discard removes the blob behind photo, if any. Failures leave an orphaned
// object and are only logged.
func (p *PhotoIngestor) discard(ctx context.Context, photo *types.Photo) {
	if photo == nil || photo.Key == "" || p.blobs == nil {
		return
	}
	err := p.settings.retry(ctx, func(ctx context.Context) error {
		return p.blobs.Delete(ctx, photo.Key)
	})
	if err != nil {
		p.log.Warn(ctx, "failed to delete photo blob", "key", photo.Key, "error", err)
	}
}

func (p *PhotoIngestor) lockUser(ctx context.Context, id uuid.UUID) (lock.Unlock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, p.settings.StorageTimeout)
	defer cancel()
	unlock, err := p.locks.Lock(lockCtx, lockKey(id))
	if err != nil {
		return nil, errs.Storage("timed out waiting for user lock", err)
	}
	return unlock, nil
}

// checkUpload enforces the size ceiling and requires an image. A missing or
// generic content type is replaced by the sniffed one.
func checkUpload(upload PhotoUpload) (PhotoUpload, error) {
	if err := validate.PhotoSize(int64(len(upload.Data))); err != nil {
		return PhotoUpload{}, err
	}
	if len(upload.Data) == 0 {
		return PhotoUpload{}, errs.Validation("Photo is empty")
	}

	contentType := strings.TrimSpace(strings.ToLower(upload.ContentType))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(upload.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return PhotoUpload{}, errs.Validation("Photo must be an image")
	}
	upload.ContentType = contentType
	return upload, nil
}

func userWriteError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NotFound("user not found")
	case errors.Is(err, store.ErrDuplicateEmail):
		return errs.Validation("Email is taken")
	default:
		return errs.Storage("failed to update user", err)
	}
}
