package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nodesocial/apiserver/types"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

const userColumns = `id, name, email, about, password_hash,
		photo_content_type, photo_size, photo_key,
		followers, following, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM users`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at, id
		OFFSET $1 LIMIT $2`
	rows, err := r.db.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]types.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetMany returns the users that exist among ids, in no particular order.
func (r *UserRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = ANY ($1::uuid[])`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Followers = []uuid.UUID{}
	user.Following = []uuid.UUID{}
	user.Photo = nil

	const query = `
		INSERT INTO users (id, name, email, about, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.About,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// UpdateProfile writes the profile fields of user. When photo is non-nil it
// replaces the stored photo in the same statement. Relationship lists are
// never written here.
func (r *UserRepository) UpdateProfile(ctx context.Context, user types.User, photo *types.Photo) (types.User, error) {
	now := time.Now().UTC()

	var row *sql.Row
	if photo == nil {
		const query = `
			UPDATE users
			SET name = $1,
				email = $2,
				about = $3,
				password_hash = $4,
				updated_at = $5
			WHERE id = $6
			RETURNING ` + userColumns
		row = r.db.QueryRowContext(ctx, query,
			user.Name, user.Email, user.About, user.PasswordHash, now, user.ID)
	} else {
		const query = `
			UPDATE users
			SET name = $1,
				email = $2,
				about = $3,
				password_hash = $4,
				updated_at = $5,
				photo_content_type = $6,
				photo_size = $7,
				photo_key = $8,
				photo_data = $9
			WHERE id = $10
			RETURNING ` + userColumns
		row = r.db.QueryRowContext(ctx, query,
			user.Name, user.Email, user.About, user.PasswordHash, now,
			photo.ContentType, photo.Size, nullString(photo.Key), photo.Data, user.ID)
	}

	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, translateError(err)
	}
	return updated, nil
}

// SetPhoto replaces the stored photo of a user.
func (r *UserRepository) SetPhoto(ctx context.Context, id uuid.UUID, photo types.Photo) (types.User, error) {
	const query = `
		UPDATE users
		SET photo_content_type = $1,
			photo_size = $2,
			photo_key = $3,
			photo_data = $4,
			updated_at = $5
		WHERE id = $6
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query,
		photo.ContentType, photo.Size, nullString(photo.Key), photo.Data, time.Now().UTC(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, translateError(err)
	}
	return user, nil
}

// GetPhoto returns the stored photo including inline data. ErrNotFound is
// returned when the user is missing or has no photo.
func (r *UserRepository) GetPhoto(ctx context.Context, id uuid.UUID) (types.Photo, error) {
	const query = `
		SELECT photo_content_type, photo_size, photo_key, photo_data
		FROM users
		WHERE id = $1`
	var (
		contentType, key sql.NullString
		size             sql.NullInt64
		data             []byte
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&contentType, &size, &key, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Photo{}, ErrNotFound
		}
		return types.Photo{}, err
	}
	if !contentType.Valid {
		return types.Photo{}, ErrNotFound
	}
	return types.Photo{
		ContentType: contentType.String,
		Size:        size.Int64,
		Key:         key.String,
		Data:        data,
	}, nil
}

// Delete removes the user, its posts, and every reference to it in other
// users' relationship lists, in one transaction.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const detachQuery = `
		UPDATE users
		SET followers = array_remove(followers, $1::uuid),
			following = array_remove(following, $1::uuid),
			updated_at = $2
		WHERE $1::uuid = ANY (followers) OR $1::uuid = ANY (following)`
	if _, err := tx.ExecContext(ctx, detachQuery, id, time.Now().UTC()); err != nil {
		return err
	}

	const deleteQuery = `DELETE FROM users WHERE id = $1`
	result, err := tx.ExecContext(ctx, deleteQuery, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AddFollowing records that userID follows followID. Adding an existing id
// is a no-op.
func (r *UserRepository) AddFollowing(ctx context.Context, userID, followID uuid.UUID) error {
	const query = `
		UPDATE users
		SET following = CASE WHEN $2::uuid = ANY (following) THEN following
			ELSE array_append(following, $2::uuid) END,
			updated_at = $3
		WHERE id = $1`
	return r.execEdge(ctx, query, userID, followID)
}

func (r *UserRepository) RemoveFollowing(ctx context.Context, userID, followID uuid.UUID) error {
	const query = `
		UPDATE users
		SET following = array_remove(following, $2::uuid),
			updated_at = $3
		WHERE id = $1`
	return r.execEdge(ctx, query, userID, followID)
}

// AddFollower records that followerID follows userID. Adding an existing id
// is a no-op.
func (r *UserRepository) AddFollower(ctx context.Context, userID, followerID uuid.UUID) error {
	const query = `
		UPDATE users
		SET followers = CASE WHEN $2::uuid = ANY (followers) THEN followers
			ELSE array_append(followers, $2::uuid) END,
			updated_at = $3
		WHERE id = $1`
	return r.execEdge(ctx, query, userID, followerID)
}

func (r *UserRepository) RemoveFollower(ctx context.Context, userID, followerID uuid.UUID) error {
	const query = `
		UPDATE users
		SET followers = array_remove(followers, $2::uuid),
			updated_at = $3
		WHERE id = $1`
	return r.execEdge(ctx, query, userID, followerID)
}

func (r *UserRepository) execEdge(ctx context.Context, query string, userID, peerID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, query, userID, peerID, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var (
		user                types.User
		photoType, photoKey sql.NullString
		photoSize           sql.NullInt64
		followers           pq.StringArray
		following           pq.StringArray
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.About,
		&user.PasswordHash,
		&photoType,
		&photoSize,
		&photoKey,
		&followers,
		&following,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return types.User{}, err
	}

	if photoType.Valid {
		user.Photo = &types.Photo{
			ContentType: photoType.String,
			Size:        photoSize.Int64,
			Key:         photoKey.String,
		}
	}

	var err error
	if user.Followers, err = parseUUIDs(followers); err != nil {
		return types.User{}, err
	}
	if user.Following, err = parseUUIDs(following); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return ErrDuplicateEmail
		case pqForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}
