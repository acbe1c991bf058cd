package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
)

// UserRepository stores users in a DB.
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) List(_ context.Context, offset, limit int) ([]types.User, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	start, end := paginate(len(r.db.order), offset, limit)
	users := make([]types.User, 0, end-start)
	for _, id := range r.db.order[start:end] {
		users = append(users, clone(r.db.users[id], false))
	}
	return users, len(r.db.order), nil
}

func (r *UserRepository) GetByID(_ context.Context, id uuid.UUID) (types.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	user, ok := r.db.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return clone(user, false), nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	id, ok := r.db.emails[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return clone(r.db.users[id], false), nil
}

func (r *UserRepository) GetMany(_ context.Context, ids []uuid.UUID) ([]types.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	users := make([]types.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.db.users[id]; ok {
			users = append(users, clone(user, false))
		}
	}
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, taken := r.db.emails[user.Email]; taken {
		return types.User{}, store.ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Followers = []uuid.UUID{}
	user.Following = []uuid.UUID{}
	user.Photo = nil

	stored := user
	r.db.users[user.ID] = &stored
	r.db.emails[user.Email] = user.ID
	r.db.order = append(r.db.order, user.ID)
	return clone(&stored, false), nil
}

func (r *UserRepository) UpdateProfile(_ context.Context, user types.User, photo *types.Photo) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	current, ok := r.db.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if owner, taken := r.db.emails[user.Email]; taken && owner != user.ID {
		return types.User{}, store.ErrDuplicateEmail
	}

	delete(r.db.emails, current.Email)
	r.db.emails[user.Email] = user.ID

	current.Name = user.Name
	current.Email = user.Email
	current.About = user.About
	current.PasswordHash = user.PasswordHash
	if photo != nil {
		p := *photo
		p.Data = append([]byte(nil), photo.Data...)
		current.Photo = &p
	}
	current.UpdatedAt = time.Now().UTC()
	return clone(current, false), nil
}

func (r *UserRepository) SetPhoto(_ context.Context, id uuid.UUID, photo types.Photo) (types.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	current, ok := r.db.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	photo.Data = append([]byte(nil), photo.Data...)
	current.Photo = &photo
	current.UpdatedAt = time.Now().UTC()
	return clone(current, false), nil
}

func (r *UserRepository) GetPhoto(_ context.Context, id uuid.UUID) (types.Photo, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	user, ok := r.db.users[id]
	if !ok || user.Photo == nil {
		return types.Photo{}, store.ErrNotFound
	}
	return *clone(user, true).Photo, nil
}

// Delete removes the user, its posts, and its id from every peer.
func (r *UserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	user, ok := r.db.users[id]
	if !ok {
		return store.ErrNotFound
	}

	for _, peer := range r.db.users {
		peer.Followers = removeID(peer.Followers, id)
		peer.Following = removeID(peer.Following, id)
	}

	posts := r.db.posts[:0]
	for _, post := range r.db.posts {
		if post.AuthorID != id {
			posts = append(posts, post)
		}
	}
	r.db.posts = posts

	delete(r.db.emails, user.Email)
	delete(r.db.users, id)
	r.db.order = removeID(r.db.order, id)
	return nil
}

func (r *UserRepository) AddFollowing(_ context.Context, userID, followID uuid.UUID) error {
	return r.mutate(userID, func(u *types.User) {
		if !containsID(u.Following, followID) {
			u.Following = append(u.Following, followID)
		}
	})
}

func (r *UserRepository) RemoveFollowing(_ context.Context, userID, followID uuid.UUID) error {
	return r.mutate(userID, func(u *types.User) {
		u.Following = removeID(u.Following, followID)
	})
}

func (r *UserRepository) AddFollower(_ context.Context, userID, followerID uuid.UUID) error {
	return r.mutate(userID, func(u *types.User) {
		if !containsID(u.Followers, followerID) {
			u.Followers = append(u.Followers, followerID)
		}
	})
}

func (r *UserRepository) RemoveFollower(_ context.Context, userID, followerID uuid.UUID) error {
	return r.mutate(userID, func(u *types.User) {
		u.Followers = removeID(u.Followers, followerID)
	})
}

func (r *UserRepository) mutate(id uuid.UUID, fn func(u *types.User)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	user, ok := r.db.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(user)
	user.UpdatedAt = time.Now().UTC()
	return nil
}
