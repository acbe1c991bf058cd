package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/lock"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/internal/validate"
	"github.com/nodesocial/apiserver/types"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	Create(ctx context.Context, post types.Post) (types.Post, error)
	List(ctx context.Context, offset, limit int) ([]types.Post, int, error)
	ListByAuthor(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]types.Post, int, error)
}

// PostService encapsulates post use-cases.
type PostService struct {
	repo     PostRepository
	locks    lock.Locker
	events   EventPublisher
	log      logging.Logger
	settings Settings
}

func NewPostService(
	repo PostRepository,
	locks lock.Locker,
	events EventPublisher,
	log logging.Logger,
	settings Settings,
) *PostService {
	return &PostService{
		repo:     repo,
		locks:    locks,
		events:   events,
		log:      log,
		settings: settings.normalized(),
	}
}

// Create stores a post by author. The text is validated before anything is
// written. The author lock is held across the insert.
func (s *PostService) Create(ctx context.Context, author types.User, text string) (types.Post, error) {
	if err := validate.PostBody(text); err != nil {
		return types.Post{}, err
	}

	ctx, err := begin(ctx)
	if err != nil {
		return types.Post{}, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.settings.StorageTimeout)
	unlock, err := s.locks.Lock(lockCtx, lockKey(author.ID))
	cancel()
	if err != nil {
		return types.Post{}, errs.Storage("timed out waiting for user lock", err)
	}
	defer unlock()

	var post types.Post
	err = s.settings.call(ctx, func(ctx context.Context) error {
		var err error
		post, err = s.repo.Create(ctx, types.Post{
			ID:        uuid.New(),
			AuthorID:  author.ID,
			Body:      strings.TrimSpace(text),
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, errs.NotFound("user not found")
		}
		return types.Post{}, errs.Storage("failed to create post", err)
	}
	post.AuthorName = author.Name

	s.events.Publish(ctx, types.Event{
		Type:       types.EventPostCreated,
		ActorID:    author.ID,
		PostID:     post.ID,
		OccurredAt: post.CreatedAt,
	})
	return post, nil
}

// List returns posts newest first.
func (s *PostService) List(ctx context.Context, offset, limit int) ([]types.Post, int, error) {
	offset, limit = clampLimit(offset, limit)
	var (
		posts []types.Post
		total int
	)
	err := s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		posts, total, err = s.repo.List(ctx, offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, errs.Storage("failed to list posts", err)
	}
	return posts, total, nil
}

// ListByAuthor returns the posts of one user newest first.
func (s *PostService) ListByAuthor(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]types.Post, int, error) {
	offset, limit = clampLimit(offset, limit)
	var (
		posts []types.Post
		total int
	)
	err := s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		posts, total, err = s.repo.ListByAuthor(ctx, authorID, offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, errs.Storage("failed to list posts", err)
	}
	return posts, total, nil
}
