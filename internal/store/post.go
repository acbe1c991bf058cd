package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/types"
)

// PostRepository handles persistence for posts.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// Create inserts a post. A missing author yields ErrNotFound.
func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO posts (id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, post.ID, post.AuthorID, post.Body, post.CreatedAt); err != nil {
		return types.Post{}, translateError(err)
	}
	return post, nil
}

// List returns posts newest first.
func (r *PostRepository) List(ctx context.Context, offset, limit int) ([]types.Post, int, error) {
	const countQuery = `SELECT COUNT(1) FROM posts`
	const listQuery = `
		SELECT p.id, p.author_id, u.name, p.body, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.author_id
		ORDER BY p.created_at DESC, p.id DESC
		OFFSET $1 LIMIT $2`
	return r.list(ctx, countQuery, listQuery, offset, limit)
}

// ListByAuthor returns the posts of one author, newest first.
func (r *PostRepository) ListByAuthor(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]types.Post, int, error) {
	const countQuery = `SELECT COUNT(1) FROM posts WHERE author_id = $1`
	const listQuery = `
		SELECT p.id, p.author_id, u.name, p.body, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE p.author_id = $3
		ORDER BY p.created_at DESC, p.id DESC
		OFFSET $1 LIMIT $2`
	return r.list(ctx, countQuery, listQuery, offset, limit, authorID)
}

func (r *PostRepository) list(ctx context.Context, countQuery, listQuery string, offset, limit int, filter ...any) ([]types.Post, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, filter...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args := append([]any{offset, limit}, filter...)
	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0, limit)
	for rows.Next() {
		var post types.Post
		if err := rows.Scan(
			&post.ID,
			&post.AuthorID,
			&post.AuthorName,
			&post.Body,
			&post.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}
