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
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, user types.User, photo *types.Photo) (types.User, error)
	SetPhoto(ctx context.Context, id uuid.UUID, photo types.Photo) (types.User, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (types.Photo, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Registration is the input of Register.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	About    string `json:"about"`
	Password string `json:"password"`
}

// ProfileInput is the input of UpdateProfile. A nil Password or an empty one
// keeps the stored credential; a nil Photo keeps the stored photo.
type ProfileInput struct {
	Name     string
	Email    string
	About    string
	Password *string
	Photo    *PhotoUpload
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	photos   *PhotoIngestor
	locks    lock.Locker
	events   EventPublisher
	log      logging.Logger
	settings Settings
	hashCost int
}

func NewUserService(
	repo UserRepository,
	photos *PhotoIngestor,
	locks lock.Locker,
	events EventPublisher,
	log logging.Logger,
	settings Settings,
) *UserService {
	return &UserService{
		repo:     repo,
		photos:   photos,
		locks:    locks,
		events:   events,
		log:      log,
		settings: settings.normalized(),
		hashCost: bcrypt.DefaultCost,
	}
}

// Register creates a user. Email addresses are compared lower-cased.
func (s *UserService) Register(ctx context.Context, in Registration) (types.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := validate.Registration(validate.Profile{
		Name:     in.Name,
		Email:    in.Email,
		About:    in.About,
		Password: &in.Password,
	}); err != nil {
		return types.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return types.User{}, errs.Storage("failed to hash password", err)
	}

	ctx, err = begin(ctx)
	if err != nil {
		return types.User{}, err
	}

	// Create is not retried: a timed-out insert that landed would come back
	// as a duplicate email.
	var user types.User
	err = s.settings.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.Create(ctx, types.User{
			ID:           uuid.New(),
			Name:         in.Name,
			Email:        in.Email,
			About:        in.About,
			PasswordHash: string(hash),
		})
		return err
	})
	if err != nil {
		return types.User{}, userWriteError(err)
	}

	s.events.Publish(ctx, types.Event{
		Type:       types.EventUserRegistered,
		ActorID:    user.ID,
		OccurredAt: time.Now().UTC(),
	})
	return user, nil
}

// Login checks credentials and returns the matching user.
func (s *UserService) Login(ctx context.Context, email, password string) (types.User, error) {
	var user types.User
	err := s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.GetByEmail(ctx, normalizeEmail(email))
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, errs.Unauthorized("Email and password don't match")
		}
		return types.User{}, errs.Storage("failed to load user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return types.User{}, errs.Unauthorized("Email and password don't match")
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (types.User, error) {
	var user types.User
	err := s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return types.User{}, userLookupError(err)
	}
	return user, nil
}

// GetByID satisfies auth.UserLookup.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	var user types.User
	err := s.settings.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.GetByID(ctx, id)
		return err
	})
	return user, err
}

func (s *UserService) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	offset, limit = clampLimit(offset, limit)
	var (
		users []types.User
		total int
	)
	err := s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		users, total, err = s.repo.List(ctx, offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, errs.Storage("failed to list users", err)
	}
	return users, total, nil
}

// Connections resolves the followers (or following) of user to summaries,
// in the order the ids are stored. Ids of users that no longer exist are
// skipped.
func (s *UserService) Connections(ctx context.Context, user types.User, followers bool) ([]types.Summary, error) {
	ids := user.Following
	if followers {
		ids = user.Followers
	}
	if len(ids) == 0 {
		return []types.Summary{}, nil
	}

	var peers []types.User
	err := s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		peers, err = s.repo.GetMany(ctx, ids)
		return err
	})
	if err != nil {
		return nil, errs.Storage("failed to load users", err)
	}

	byID := make(map[uuid.UUID]types.User, len(peers))
	for _, peer := range peers {
		byID[peer.ID] = peer
	}
	summaries := make([]types.Summary, 0, len(ids))
	for _, id := range ids {
		if peer, ok := byID[id]; ok {
			summaries = append(summaries, peer.Summary())
		}
	}
	return summaries, nil
}

// UpdateProfile applies a profile edit. Relationship lists are never written
// on this path. A new photo is staged first and discarded if the record
// update fails.
func (s *UserService) UpdateProfile(ctx context.Context, target types.User, in ProfileInput) (types.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	var photoSize int64
	if in.Photo != nil {
		photoSize = int64(len(in.Photo.Data))
	}
	if err := validate.ProfileEdit(validate.Profile{
		Name:      in.Name,
		Email:     in.Email,
		About:     in.About,
		Password:  in.Password,
		PhotoSize: photoSize,
	}); err != nil {
		return types.User{}, err
	}

	var upload PhotoUpload
	if in.Photo != nil {
		var err error
		if upload, err = checkUpload(*in.Photo); err != nil {
			return types.User{}, err
		}
	}

	var hash []byte
	if in.Password != nil && *in.Password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(*in.Password), s.hashCost); err != nil {
			return types.User{}, errs.Storage("failed to hash password", err)
		}
	}

	ctx, err := begin(ctx)
	if err != nil {
		return types.User{}, err
	}
	unlock, err := s.lockUser(ctx, target.ID)
	if err != nil {
		return types.User{}, err
	}
	defer unlock()

	current, err := s.Get(ctx, target.ID)
	if err != nil {
		return types.User{}, err
	}

	next := current
	next.Name = in.Name
	next.Email = in.Email
	next.About = in.About
	if hash != nil {
		next.PasswordHash = string(hash)
	}

	var staged *types.Photo
	if in.Photo != nil {
		photo, err := s.photos.stage(ctx, current.ID, upload)
		if err != nil {
			return types.User{}, err
		}
		staged = &photo
	}

	var updated types.User
	err = s.settings.retry(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.repo.UpdateProfile(ctx, next, staged)
		return err
	})
	if err != nil {
		s.photos.discard(ctx, staged)
		return types.User{}, userWriteError(err)
	}
	if staged != nil {
		s.photos.discard(ctx, current.Photo)
	}
	return updated, nil
}

// Delete removes a user together with its posts, its photo and every
// reference to it held by other users.
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, err := begin(ctx)
	if err != nil {
		return err
	}
	unlock, err := s.lockUser(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	// A retry after a timed-out attempt that committed finds nothing left.
	attempt := 0
	err = s.settings.retry(ctx, func(ctx context.Context) error {
		attempt++
		err := s.repo.Delete(ctx, id)
		if attempt > 1 && errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return userWriteError(err)
	}

	s.photos.discard(ctx, user.Photo)
	s.log.Info(ctx, "user deleted", "user", id,
		"followers", len(user.Followers), "following", len(user.Following))
	s.events.Publish(ctx, types.Event{
		Type:       types.EventUserDeleted,
		ActorID:    id,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

func (s *UserService) lockUser(ctx context.Context, id uuid.UUID) (lock.Unlock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.settings.StorageTimeout)
	defer cancel()
	unlock, err := s.locks.Lock(lockCtx, lockKey(id))
	if err != nil {
		return nil, errs.Storage("timed out waiting for user lock", err)
	}
	return unlock, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

