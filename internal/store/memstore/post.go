package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
)

// PostRepository stores posts in a DB.
type PostRepository struct {
	db *DB
}

func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Create(_ context.Context, post types.Post) (types.Post, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.users[post.AuthorID]; !ok {
		return types.Post{}, store.ErrNotFound
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.AuthorName = ""
	r.db.posts = append(r.db.posts, post)
	return post, nil
}

func (r *PostRepository) List(_ context.Context, offset, limit int) ([]types.Post, int, error) {
	return r.list(offset, limit, func(types.Post) bool { return true })
}

func (r *PostRepository) ListByAuthor(_ context.Context, authorID uuid.UUID, offset, limit int) ([]types.Post, int, error) {
	return r.list(offset, limit, func(p types.Post) bool { return p.AuthorID == authorID })
}

// list walks posts newest first. Posts are appended in creation order, so
// walking backwards is newest first.
func (r *PostRepository) list(offset, limit int, keep func(types.Post) bool) ([]types.Post, int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	matched := make([]types.Post, 0)
	for i := len(r.db.posts) - 1; i >= 0; i-- {
		post := r.db.posts[i]
		if !keep(post) {
			continue
		}
		if author, ok := r.db.users[post.AuthorID]; ok {
			post.AuthorName = author.Name
		}
		matched = append(matched, post)
	}

	start, end := paginate(len(matched), offset, limit)
	return matched[start:end], len(matched), nil
}
