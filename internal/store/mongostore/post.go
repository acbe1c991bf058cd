package mongostore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type postDoc struct {
	ID        string    `bson:"_id"`
	AuthorID  string    `bson:"author_id"`
	Body      string    `bson:"body"`
	CreatedAt time.Time `bson:"created_at"`
}

// PostRepository handles persistence for posts.
type PostRepository struct {
	posts *mongo.Collection
	users *mongo.Collection
}

func NewPostRepository(db *mongo.Database) *PostRepository {
	return &PostRepository{
		posts: db.Collection(postsCollection),
		users: db.Collection(usersCollection),
	}
}

// Create inserts a post after checking that the author exists.
func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	count, err := r.users.CountDocuments(ctx, bson.M{"_id": post.AuthorID.String()}, options.Count().SetLimit(1))
	if err != nil {
		return types.Post{}, err
	}
	if count == 0 {
		return types.Post{}, store.ErrNotFound
	}

	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.CreatedAt = post.CreatedAt.Truncate(time.Millisecond)

	doc := postDoc{
		ID:        post.ID.String(),
		AuthorID:  post.AuthorID.String(),
		Body:      post.Body,
		CreatedAt: post.CreatedAt,
	}
	if _, err := r.posts.InsertOne(ctx, doc); err != nil {
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) List(ctx context.Context, offset, limit int) ([]types.Post, int, error) {
	return r.list(ctx, bson.M{}, offset, limit)
}

func (r *PostRepository) ListByAuthor(ctx context.Context, authorID uuid.UUID, offset, limit int) ([]types.Post, int, error) {
	return r.list(ctx, bson.M{"author_id": authorID.String()}, offset, limit)
}

func (r *PostRepository) list(ctx context.Context, filter bson.M, offset, limit int) ([]types.Post, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	total, err := r.posts.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := r.posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []postDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	names, err := r.authorNames(ctx, docs)
	if err != nil {
		return nil, 0, err
	}

	posts := make([]types.Post, 0, len(docs))
	for _, doc := range docs {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, 0, err
		}
		authorID, err := uuid.Parse(doc.AuthorID)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, types.Post{
			ID:         id,
			AuthorID:   authorID,
			AuthorName: names[doc.AuthorID],
			Body:       doc.Body,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return posts, int(total), nil
}

func (r *PostRepository) authorNames(ctx context.Context, docs []postDoc) (map[string]string, error) {
	names := make(map[string]string)
	if len(docs) == 0 {
		return names, nil
	}

	ids := make(bson.A, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if !seen[doc.AuthorID] {
			seen[doc.AuthorID] = true
			ids = append(ids, doc.AuthorID)
		}
	}

	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"name": 1}))
	if err != nil {
		return nil, err
	}
	var authors []struct {
		ID   string `bson:"_id"`
		Name string `bson:"name"`
	}
	if err := cursor.All(ctx, &authors); err != nil {
		return nil, err
	}
	for _, author := range authors {
		names[author.ID] = author.Name
	}
	return names, nil
}
