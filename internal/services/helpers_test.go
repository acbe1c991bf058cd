package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/lock"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/storage"
	"github.com/nodesocial/apiserver/internal/store/memstore"
	"github.com/nodesocial/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errInjected = errors.New("injected storage failure")

const always = -1

// faultyRepo wraps the in-memory repository and fails selected operations.
// A failing write can be configured to land before the error is returned,
// which is what a storage timeout after commit looks like.
type faultyRepo struct {
	*memstore.UserRepository

	mu     sync.Mutex
	faults map[string]int
	errs   map[string]error
	landed map[string]bool
	calls  map[string]int
}

func newFaultyRepo(db *memstore.DB) *faultyRepo {
	return &faultyRepo{
		UserRepository: memstore.NewUserRepository(db),
		faults:         make(map[string]int),
		errs:           make(map[string]error),
		landed:         make(map[string]bool),
		calls:          make(map[string]int),
	}
}

// failN makes the next n calls of op fail. n == always fails every call.
func (f *faultyRepo) failN(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = n
}

// failAfterWrite makes the next n calls of op apply their write and then fail.
func (f *faultyRepo) failAfterWrite(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = n
	f.landed[op] = true
}

// failWith makes the next n calls of op fail with err.
func (f *faultyRepo) failWith(op string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = n
	f.errs[op] = err
}

func (f *faultyRepo) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.faults)
	clear(f.errs)
	clear(f.landed)
}

func (f *faultyRepo) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyRepo) run(op string, fn func() error) error {
	f.mu.Lock()
	f.calls[op]++
	n := f.faults[op]
	if n == 0 {
		f.mu.Unlock()
		return fn()
	}
	if n > 0 {
		f.faults[op] = n - 1
	}
	landed := f.landed[op]
	err, ok := f.errs[op]
	f.mu.Unlock()

	if landed {
		_ = fn()
	}
	if ok {
		return err
	}
	return errInjected
}

func (f *faultyRepo) AddFollowing(ctx context.Context, userID, followID uuid.UUID) error {
	return f.run("AddFollowing", func() error { return f.UserRepository.AddFollowing(ctx, userID, followID) })
}

func (f *faultyRepo) RemoveFollowing(ctx context.Context, userID, followID uuid.UUID) error {
	return f.run("RemoveFollowing", func() error { return f.UserRepository.RemoveFollowing(ctx, userID, followID) })
}

func (f *faultyRepo) AddFollower(ctx context.Context, userID, followerID uuid.UUID) error {
	return f.run("AddFollower", func() error { return f.UserRepository.AddFollower(ctx, userID, followerID) })
}

func (f *faultyRepo) RemoveFollower(ctx context.Context, userID, followerID uuid.UUID) error {
	return f.run("RemoveFollower", func() error { return f.UserRepository.RemoveFollower(ctx, userID, followerID) })
}

func (f *faultyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return f.run("Delete", func() error { return f.UserRepository.Delete(ctx, id) })
}

func (f *faultyRepo) UpdateProfile(ctx context.Context, user types.User, photo *types.Photo) (types.User, error) {
	var updated types.User
	err := f.run("UpdateProfile", func() error {
		var err error
		updated, err = f.UserRepository.UpdateProfile(ctx, user, photo)
		return err
	})
	return updated, err
}

func (f *faultyRepo) SetPhoto(ctx context.Context, id uuid.UUID, photo types.Photo) (types.User, error) {
	var updated types.User
	err := f.run("SetPhoto", func() error {
		var err error
		updated, err = f.UserRepository.SetPhoto(ctx, id, photo)
		return err
	})
	return updated, err
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Publish(_ context.Context, event types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) kinds() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(t types.EventType) int {
	n := 0
	for _, got := range r.kinds() {
		if got == t {
			n++
		}
	}
	return n
}

// memBlobs is an in-memory PhotoBlobs.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPut {
		return errInjected
	}
	b.objects[key] = slices.Clone(data)
	return nil
}

func (b *memBlobs) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return slices.Clone(data), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	return keys
}

type fixture struct {
	db     *memstore.DB
	repo   *faultyRepo
	events *recorder
	photos *PhotoIngestor
	users  *UserService
	rel    *RelationshipService
	posts  *PostService
}

func testSettings() Settings {
	return Settings{
		StorageTimeout: time.Second,
		Retry:          RetryPolicy{Attempts: 3, Delay: time.Millisecond},
	}
}

// newFixture wires the services over memstore. A nil blobs keeps photos
// inline.
func newFixture(t *testing.T, blobs PhotoBlobs) *fixture {
	t.Helper()

	db := memstore.New()
	repo := newFaultyRepo(db)
	events := &recorder{}
	locks := lock.NewLocal()
	log := logging.Discard()
	settings := testSettings()

	photos := NewPhotoIngestor(repo, blobs, locks, log, settings)
	users := NewUserService(repo, photos, locks, events, log, settings)
	users.hashCost = bcrypt.MinCost

	return &fixture{
		db:     db,
		repo:   repo,
		events: events,
		photos: photos,
		users:  users,
		rel:    NewRelationshipService(repo, locks, events, log, settings),
		posts:  NewPostService(memstore.NewPostRepository(db), locks, events, log, settings),
	}
}

func (f *fixture) register(t *testing.T, name string) types.User {
	t.Helper()
	user, err := f.users.Register(context.Background(), Registration{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) load(t *testing.T, id uuid.UUID) types.User {
	t.Helper()
	user, err := f.repo.UserRepository.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return out
}
