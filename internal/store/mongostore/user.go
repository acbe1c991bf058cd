package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type photoDoc struct {
	ContentType string `bson:"content_type"`
	Size        int64  `bson:"size"`
	Key         string `bson:"key,omitempty"`
	Data        []byte `bson:"data,omitempty"`
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	About        string    `bson:"about"`
	PasswordHash string    `bson:"password_hash"`
	Photo        *photoDoc `bson:"photo,omitempty"`
	Followers    []string  `bson:"followers"`
	Following    []string  `bson:"following"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// withoutPhotoData keeps photo blobs out of ordinary reads.
var withoutPhotoData = bson.M{"photo.data": 0}

// UserRepository handles persistence for users.
type UserRepository struct {
	users *mongo.Collection
	posts *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{
		users: db.Collection(usersCollection),
		posts: db.Collection(postsCollection),
	}
}

func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	total, err := r.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(withoutPhotoData)
	users, err := r.find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	return users, int(total), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) GetMany(ctx context.Context, ids []uuid.UUID) ([]types.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": idStrings(ids)}}, options.Find().SetProjection(withoutPhotoData))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Followers = []uuid.UUID{}
	user.Following = []uuid.UUID{}
	user.Photo = nil

	if _, err := r.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, user types.User, photo *types.Photo) (types.User, error) {
	set := bson.M{
		"name":          user.Name,
		"email":         user.Email,
		"about":         user.About,
		"password_hash": user.PasswordHash,
		"updated_at":    time.Now().UTC(),
	}
	if photo != nil {
		set["photo"] = toPhotoDoc(*photo)
	}
	return r.findOneAndSet(ctx, user.ID, set)
}

func (r *UserRepository) SetPhoto(ctx context.Context, id uuid.UUID, photo types.Photo) (types.User, error) {
	return r.findOneAndSet(ctx, id, bson.M{
		"photo":      toPhotoDoc(photo),
		"updated_at": time.Now().UTC(),
	})
}

func (r *UserRepository) GetPhoto(ctx context.Context, id uuid.UUID) (types.Photo, error) {
	var doc userDoc
	opts := options.FindOne().SetProjection(bson.M{"photo": 1})
	if err := r.users.FindOne(ctx, bson.M{"_id": id.String()}, opts).Decode(&doc); err != nil {
		return types.Photo{}, translateError(err)
	}
	if doc.Photo == nil {
		return types.Photo{}, store.ErrNotFound
	}
	return types.Photo{
		ContentType: doc.Photo.ContentType,
		Size:        doc.Photo.Size,
		Key:         doc.Photo.Key,
		Data:        doc.Photo.Data,
	}, nil
}

// Delete detaches the user from every peer, removes its posts, then removes
// the user document. Each step is idempotent so the whole call can be
// retried after a partial failure.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	key := id.String()

	if err := r.users.FindOne(ctx, bson.M{"_id": key}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err(); err != nil {
		return translateError(err)
	}

	_, err := r.users.UpdateMany(ctx,
		bson.M{"$or": bson.A{bson.M{"followers": key}, bson.M{"following": key}}},
		bson.M{
			"$pull": bson.M{"followers": key, "following": key},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}

	if _, err := r.posts.DeleteMany(ctx, bson.M{"author_id": key}); err != nil {
		return err
	}

	_, err = r.users.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (r *UserRepository) AddFollowing(ctx context.Context, userID, followID uuid.UUID) error {
	return r.updateEdge(ctx, userID, "$addToSet", "following", followID)
}

func (r *UserRepository) RemoveFollowing(ctx context.Context, userID, followID uuid.UUID) error {
	return r.updateEdge(ctx, userID, "$pull", "following", followID)
}

func (r *UserRepository) AddFollower(ctx context.Context, userID, followerID uuid.UUID) error {
	return r.updateEdge(ctx, userID, "$addToSet", "followers", followerID)
}

func (r *UserRepository) RemoveFollower(ctx context.Context, userID, followerID uuid.UUID) error {
	return r.updateEdge(ctx, userID, "$pull", "followers", followerID)
}

func (r *UserRepository) updateEdge(ctx context.Context, userID uuid.UUID, op, field string, peerID uuid.UUID) error {
	result, err := r.users.UpdateOne(ctx,
		bson.M{"_id": userID.String()},
		bson.M{
			op:     bson.M{field: peerID.String()},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc userDoc
	opts := options.FindOne().SetProjection(withoutPhotoData)
	if err := r.users.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		return types.User{}, translateError(err)
	}
	return fromUserDoc(doc)
}

func (r *UserRepository) findOneAndSet(ctx context.Context, id uuid.UUID, set bson.M) (types.User, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(withoutPhotoData)
	var doc userDoc
	err := r.users.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		return types.User{}, translateError(err)
	}
	return fromUserDoc(doc)
}

func (r *UserRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]types.User, error) {
	cursor, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]types.User, 0, len(docs))
	for _, doc := range docs {
		user, err := fromUserDoc(doc)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func toUserDoc(user types.User) userDoc {
	doc := userDoc{
		ID:           user.ID.String(),
		Name:         user.Name,
		Email:        user.Email,
		About:        user.About,
		PasswordHash: user.PasswordHash,
		Followers:    idStrings(user.Followers),
		Following:    idStrings(user.Following),
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
	if user.Photo != nil {
		photo := toPhotoDoc(*user.Photo)
		doc.Photo = &photo
	}
	return doc
}

func toPhotoDoc(photo types.Photo) photoDoc {
	return photoDoc{
		ContentType: photo.ContentType,
		Size:        photo.Size,
		Key:         photo.Key,
		Data:        photo.Data,
	}
}

func fromUserDoc(doc userDoc) (types.User, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return types.User{}, err
	}
	followers, err := parseIDs(doc.Followers)
	if err != nil {
		return types.User{}, err
	}
	following, err := parseIDs(doc.Following)
	if err != nil {
		return types.User{}, err
	}

	user := types.User{
		ID:           id,
		Name:         doc.Name,
		Email:        doc.Email,
		About:        doc.About,
		PasswordHash: doc.PasswordHash,
		Followers:    followers,
		Following:    following,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	if doc.Photo != nil {
		user.Photo = &types.Photo{
			ContentType: doc.Photo.ContentType,
			Size:        doc.Photo.Size,
			Key:         doc.Photo.Key,
		}
	}
	return user, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseIDs(values []string) ([]uuid.UUID, error) {
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

func translateError(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrDuplicateEmail
	default:
		return err
	}
}
