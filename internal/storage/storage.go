package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/types"
)

// ErrObjectNotFound is returned when a key has no object.
var ErrObjectNotFound = errors.New("object not found")

// photoCacheControl marks photo blobs immutable; a replacement always gets
// a new key.
const photoCacheControl = "private, max-age=31536000, immutable"

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Ping(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage keeps profile photo blobs in an ObjectStorage backend. Every upload
// gets a fresh key so a replacement never overwrites the blob a committed
// record still points at.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Ping reports whether the bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// NewPhotoKey returns a new object key for a photo of userID.
func NewPhotoKey(userID uuid.UUID) string {
	return fmt.Sprintf("photos/%s/%s", userID, uuid.NewString())
}

// Put uploads data under key.
func (s *Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// Read returns the full object stored under key. Objects larger than the
// photo ceiling are rejected.
func (s *Storage) Read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, types.MaxPhotoBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > types.MaxPhotoBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", key, types.MaxPhotoBytes)
	}
	return data, nil
}

// Delete removes the object under key. Missing objects are not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	return nil
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
