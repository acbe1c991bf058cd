package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/lock"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestRegister_NormalizesEmailAndHidesHash(t *testing.T) {
	f := newFixture(t, nil)

	user, err := f.users.Register(context.Background(), Registration{
		Name:     "  Alice ",
		Email:    " Alice@Example.COM ",
		Password: "secret1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.Empty(t, user.Followers)
	assert.Empty(t, user.Following)
	assert.Equal(t, []types.EventType{types.EventUserRegistered}, f.events.kinds())
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   Registration
		want string
	}{
		{"missing name", Registration{Email: "a@b.com", Password: "secret1"}, "Name is required"},
		{"bad email", Registration{Name: "A", Email: "not-an-email", Password: "secret1"}, "A valid email is required"},
		{"missing password", Registration{Name: "A", Email: "a@b.com"}, "Password is required"},
		{"short password", Registration{Name: "A", Email: "a@b.com", Password: "12345"}, "Password must be at least 6 characters long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.users.Register(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Equal(t, tt.want, errs.MessageOf(err))
			assert.Empty(t, f.events.kinds())
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "Alice")

	_, err := f.users.Register(context.Background(), Registration{
		Name:     "Other",
		Email:    "ALICE@example.com",
		Password: "secret1",
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Equal(t, "Email is taken", errs.MessageOf(err))
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	ctx := context.Background()

	got, err := f.users.Login(ctx, "ALICE@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = f.users.Login(ctx, "alice@example.com", "wrong-password")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	_, err = f.users.Login(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestUpdateProfile_AppliesFieldsAndKeepsRelationships(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	bob := f.register(t, "Bob")
	ctx := context.Background()

	_, err := f.rel.Follow(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	updated, err := f.users.UpdateProfile(ctx, alice, ProfileInput{
		Name:     "Alice Liddell",
		Email:    "liddell@example.com",
		About:    "down the rabbit hole",
		Password: strptr("new-secret"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Alice Liddell", updated.Name)
	assert.Equal(t, "liddell@example.com", updated.Email)
	assert.Equal(t, "down the rabbit hole", updated.About)
	assert.True(t, updated.HasFollower(bob.ID), "relationships survive a profile edit from a stale copy")

	_, err = f.users.Login(ctx, "liddell@example.com", "new-secret")
	require.NoError(t, err)
	_, err = f.users.Login(ctx, "liddell@example.com", "secret1")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestUpdateProfile_EmptyPasswordKeepsCredential(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	ctx := context.Background()

	_, err := f.users.UpdateProfile(ctx, alice, ProfileInput{
		Name:     "Alice",
		Email:    alice.Email,
		Password: strptr(""),
	})
	require.NoError(t, err)

	_, err = f.users.Login(ctx, alice.Email, "secret1")
	require.NoError(t, err)
}

func TestUpdateProfile_RejectsTakenEmail(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	bob := f.register(t, "Bob")

	_, err := f.users.UpdateProfile(context.Background(), alice, ProfileInput{
		Name:  "Alice",
		Email: bob.Email,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Equal(t, "Email is taken", errs.MessageOf(err))
	assert.Equal(t, alice.Email, f.load(t, alice.ID).Email)
}

func TestUpdateProfile_PhotoSizeLimit(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	ctx := context.Background()

	tooBig := ProfileInput{
		Name:  "Renamed",
		Email: alice.Email,
		Photo: &PhotoUpload{ContentType: "image/png", Data: bytes.Repeat([]byte{1}, types.MaxPhotoBytes+1)},
	}
	_, err := f.users.UpdateProfile(ctx, alice, tooBig)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Equal(t, "File size should be less than 100000 bytes", errs.MessageOf(err))

	stored := f.load(t, alice.ID)
	assert.Equal(t, "Alice", stored.Name, "nothing is applied when the photo is rejected")
	assert.Nil(t, stored.Photo)
	assert.Zero(t, f.repo.callCount("UpdateProfile"))

	atLimit := tooBig
	atLimit.Photo = &PhotoUpload{ContentType: "image/png", Data: bytes.Repeat([]byte{1}, types.MaxPhotoBytes)}
	updated, err := f.users.UpdateProfile(ctx, alice, atLimit)
	require.NoError(t, err)
	require.NotNil(t, updated.Photo)
	assert.Equal(t, int64(types.MaxPhotoBytes), updated.Photo.Size)
	assert.Equal(t, "Renamed", updated.Name)
}

func TestUpdateProfile_DiscardsStagedPhotoOnFailure(t *testing.T) {
	blobs := newMemBlobs()
	f := newFixture(t, blobs)
	alice := f.register(t, "Alice")
	f.repo.failN("UpdateProfile", always)

	_, err := f.users.UpdateProfile(context.Background(), alice, ProfileInput{
		Name:  "Alice",
		Email: alice.Email,
		Photo: &PhotoUpload{ContentType: "image/png", Data: []byte("png")},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindStorage, errs.KindOf(err))
	assert.Empty(t, blobs.keys())
	assert.Nil(t, f.load(t, alice.ID).Photo)
}

func TestConnections_ResolvesSummariesInOrder(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	bob := f.register(t, "Bob")
	carol := f.register(t, "Carol")
	ctx := context.Background()

	_, err := f.rel.Follow(ctx, carol.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.rel.Follow(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	followers, err := f.users.Connections(ctx, f.load(t, alice.ID), true)
	require.NoError(t, err)
	assert.Equal(t, []types.Summary{carol.Summary(), bob.Summary()}, followers)

	following, err := f.users.Connections(ctx, f.load(t, alice.ID), false)
	require.NoError(t, err)
	assert.Empty(t, following)
}

func TestDelete_CascadesToPeersPostsAndPhoto(t *testing.T) {
	blobs := newMemBlobs()
	f := newFixture(t, blobs)
	alice := f.register(t, "Alice")
	bob := f.register(t, "Bob")
	ctx := context.Background()

	_, err := f.rel.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.rel.Follow(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.photos.Ingest(ctx, alice, PhotoUpload{ContentType: "image/png", Data: []byte("png")})
	require.NoError(t, err)
	_, err = f.posts.Create(ctx, alice, "hello")
	require.NoError(t, err)
	_, err = f.posts.Create(ctx, bob, "hi alice")
	require.NoError(t, err)
	require.Len(t, blobs.keys(), 1)

	require.NoError(t, f.users.Delete(ctx, alice.ID))

	_, err = f.users.Get(ctx, alice.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	stored := f.load(t, bob.ID)
	assert.Empty(t, stored.Followers)
	assert.Empty(t, stored.Following)
	assert.Empty(t, blobs.keys())

	posts, total, err := f.posts.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, bob.ID, posts[0].AuthorID)
	assert.Equal(t, 1, f.events.count(types.EventUserDeleted))
}

func TestDelete_RetryAfterLandedAttemptSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	f.repo.failAfterWrite("Delete", 1)

	require.NoError(t, f.users.Delete(context.Background(), alice.ID))
	assert.Equal(t, 2, f.repo.callCount("Delete"))
}

func TestDelete_MissingUser(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")
	ctx := context.Background()
	require.NoError(t, f.users.Delete(ctx, alice.ID))

	err := f.users.Delete(ctx, alice.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

// deadlineRepo records whether lookups carried a deadline.
type deadlineRepo struct {
	*faultyRepo
	sawDeadline bool
}

func (r *deadlineRepo) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	_, r.sawDeadline = ctx.Deadline()
	return r.faultyRepo.GetByID(ctx, id)
}

func TestGetByID_UsesStorageTimeout(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.register(t, "Alice")

	repo := &deadlineRepo{faultyRepo: f.repo}
	users := NewUserService(repo, f.photos, lock.NewLocal(), f.events, logging.Discard(), testSettings())

	got, err := users.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.True(t, repo.sawDeadline)
}
