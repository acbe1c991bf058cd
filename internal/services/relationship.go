package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/lock"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
)

const reconcilePageSize = 100

// RelationshipRepository defines the persistence operations of the follow
// graph. Each edge method touches one user record atomically and is
// idempotent.
type RelationshipRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	AddFollowing(ctx context.Context, userID, followID uuid.UUID) error
	RemoveFollowing(ctx context.Context, userID, followID uuid.UUID) error
	AddFollower(ctx context.Context, userID, followerID uuid.UUID) error
	RemoveFollower(ctx context.Context, userID, followerID uuid.UUID) error
}

// FollowResult is the state of both users after a follow or unfollow.
type FollowResult struct {
	Actor  types.User `json:"actor"`
	Target types.User `json:"target"`
}

// ReconcileReport summarises a repair sweep.
type ReconcileReport struct {
	Users     int `json:"users"`
	Completed int `json:"completed"`
	Dropped   int `json:"dropped"`
}

// RelationshipService applies follow and unfollow as a two-sided update.
type RelationshipService struct {
	repo     RelationshipRepository
	locks    lock.Locker
	events   EventPublisher
	log      logging.Logger
	settings Settings
}

func NewRelationshipService(
	repo RelationshipRepository,
	locks lock.Locker,
	events EventPublisher,
	log logging.Logger,
	settings Settings,
) *RelationshipService {
	return &RelationshipService{
		repo:     repo,
		locks:    locks,
		events:   events,
		log:      log,
		settings: settings.normalized(),
	}
}

// half is one side of an edge write.
type half func(ctx context.Context) error

type edgePlan struct {
	eventType types.EventType
	verb      string
	// present reports whether each side already matches the desired state.
	firstDone, secondDone bool
	first, second         half
	undoFirst, undoSecond half
}

// Follow makes actorID follow targetID.
func (s *RelationshipService) Follow(ctx context.Context, actorID, targetID uuid.UUID) (FollowResult, error) {
	if actorID == targetID {
		return FollowResult{}, errs.InvalidOperation("you cannot follow yourself")
	}
	return s.apply(ctx, actorID, targetID, func(actor, target types.User) edgePlan {
		return edgePlan{
			eventType:  types.EventUserFollowed,
			verb:       "follow",
			firstDone:  actor.IsFollowing(targetID),
			secondDone: target.HasFollower(actorID),
			first:      func(ctx context.Context) error { return s.repo.AddFollowing(ctx, actorID, targetID) },
			second:     func(ctx context.Context) error { return s.repo.AddFollower(ctx, targetID, actorID) },
			undoFirst:  func(ctx context.Context) error { return s.repo.RemoveFollowing(ctx, actorID, targetID) },
			undoSecond: func(ctx context.Context) error { return s.repo.RemoveFollower(ctx, targetID, actorID) },
		}
	})
}

// Unfollow removes the edge actorID -> targetID.
func (s *RelationshipService) Unfollow(ctx context.Context, actorID, targetID uuid.UUID) (FollowResult, error) {
	if actorID == targetID {
		return FollowResult{}, errs.InvalidOperation("you cannot unfollow yourself")
	}
	return s.apply(ctx, actorID, targetID, func(actor, target types.User) edgePlan {
		return edgePlan{
			eventType:  types.EventUserUnfollowed,
			verb:       "unfollow",
			firstDone:  !actor.IsFollowing(targetID),
			secondDone: !target.HasFollower(actorID),
			first:      func(ctx context.Context) error { return s.repo.RemoveFollowing(ctx, actorID, targetID) },
			second:     func(ctx context.Context) error { return s.repo.RemoveFollower(ctx, targetID, actorID) },
			undoFirst:  func(ctx context.Context) error { return s.repo.AddFollowing(ctx, actorID, targetID) },
			undoSecond: func(ctx context.Context) error { return s.repo.AddFollower(ctx, targetID, actorID) },
		}
	})
}

func (s *RelationshipService) apply(
	ctx context.Context,
	actorID, targetID uuid.UUID,
	plan func(actor, target types.User) edgePlan,
) (FollowResult, error) {
	ctx, err := begin(ctx)
	if err != nil {
		return FollowResult{}, err
	}

	unlock, err := s.lockPair(ctx, actorID, targetID)
	if err != nil {
		return FollowResult{}, err
	}
	defer unlock()

	actor, err := s.get(ctx, actorID)
	if err != nil {
		return FollowResult{}, err
	}
	target, err := s.get(ctx, targetID)
	if err != nil {
		return FollowResult{}, err
	}

	p := plan(actor, target)
	if p.firstDone && p.secondDone {
		return FollowResult{Actor: actor, Target: target}, nil
	}

	log := s.log.With("op", p.verb, "actor", actorID, "target", targetID)

	if !p.firstDone {
		if err := s.settings.retry(ctx, p.first); err != nil {
			// A timed-out write may still have landed; undo is idempotent.
			if uerr := s.undo(ctx, p.undoFirst); uerr != nil {
				log.Error(ctx, "relationship left one-sided", "error", errors.Join(err, uerr))
				return FollowResult{}, errs.Storage("relationship update failed and could not be rolled back", errors.Join(err, uerr))
			}
			return FollowResult{}, s.writeError(err)
		}
	}

	if !p.secondDone {
		if err := s.settings.retry(ctx, p.second); err != nil {
			rollbackErr := s.undo(ctx, p.undoSecond)
			if rollbackErr == nil && !p.firstDone {
				rollbackErr = s.undo(ctx, p.undoFirst)
			}
			if rollbackErr != nil {
				log.Error(ctx, "relationship left one-sided", "error", errors.Join(err, rollbackErr))
				return FollowResult{}, errs.Storage("relationship update failed and could not be rolled back", errors.Join(err, rollbackErr))
			}
			log.Warn(ctx, "relationship update rolled back", "error", err)
			return FollowResult{}, s.writeError(err)
		}
	}

	result := s.reload(ctx, actor, target, p.eventType == types.EventUserFollowed)
	s.events.Publish(ctx, types.Event{
		Type:       p.eventType,
		ActorID:    actorID,
		TargetID:   targetID,
		OccurredAt: time.Now().UTC(),
	})
	return result, nil
}

// reload reads both users after a committed write. If a read fails the
// result is derived from the pre-write state, which the held locks keep
// accurate for the relationship lists.
func (s *RelationshipService) reload(ctx context.Context, actor, target types.User, followed bool) FollowResult {
	freshActor, aerr := s.get(ctx, actor.ID)
	freshTarget, terr := s.get(ctx, target.ID)
	if aerr == nil && terr == nil {
		return FollowResult{Actor: freshActor, Target: freshTarget}
	}
	s.log.Warn(ctx, "reload after relationship write failed", "error", errors.Join(aerr, terr))

	actor.Following = withoutID(actor.Following, target.ID)
	target.Followers = withoutID(target.Followers, actor.ID)
	if followed {
		actor.Following = append(actor.Following, target.ID)
		target.Followers = append(target.Followers, actor.ID)
	}
	return FollowResult{Actor: actor, Target: target}
}

// Reconcile scans every user and repairs edges present on one side only.
// An edge between two existing users is completed; an edge naming a missing
// user is dropped.
func (s *RelationshipService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	type pair struct{ from, to uuid.UUID }
	suspects := make(map[pair]struct{})

	for offset := 0; ; offset += reconcilePageSize {
		var (
			page  []types.User
			total int
		)
		err := s.settings.retry(ctx, func(ctx context.Context) error {
			var err error
			page, total, err = s.repo.List(ctx, offset, reconcilePageSize)
			return err
		})
		if err != nil {
			return report, errs.Storage("failed to list users", err)
		}
		report.Users += len(page)

		for _, user := range page {
			for _, followed := range user.Following {
				suspects[pair{user.ID, followed}] = struct{}{}
			}
			for _, follower := range user.Followers {
				suspects[pair{follower, user.ID}] = struct{}{}
			}
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	for p := range suspects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		completed, dropped, err := s.repairEdge(ctx, p.from, p.to)
		if err != nil {
			return report, err
		}
		if completed {
			report.Completed++
		}
		if dropped {
			report.Dropped++
		}
	}
	return report, nil
}

func (s *RelationshipService) repairEdge(ctx context.Context, fromID, toID uuid.UUID) (completed, dropped bool, err error) {
	unlock, err := s.lockPair(ctx, fromID, toID)
	if err != nil {
		return false, false, err
	}
	defer unlock()

	from, ferr := s.get(ctx, fromID)
	to, terr := s.get(ctx, toID)
	fromMissing := errs.KindOf(ferr) == errs.KindNotFound
	toMissing := errs.KindOf(terr) == errs.KindNotFound
	if (ferr != nil && !fromMissing) || (terr != nil && !toMissing) {
		return false, false, errors.Join(ferr, terr)
	}

	var fixes []half
	switch {
	case fromMissing && toMissing:
		return false, false, nil
	case fromMissing || toMissing || fromID == toID:
		if !fromMissing && from.IsFollowing(toID) {
			fixes = append(fixes, func(ctx context.Context) error { return s.repo.RemoveFollowing(ctx, fromID, toID) })
		}
		if !toMissing && to.HasFollower(fromID) {
			fixes = append(fixes, func(ctx context.Context) error { return s.repo.RemoveFollower(ctx, toID, fromID) })
		}
		dropped = len(fixes) > 0
	default:
		following, followed := from.IsFollowing(toID), to.HasFollower(fromID)
		switch {
		case following && !followed:
			fixes = append(fixes, func(ctx context.Context) error { return s.repo.AddFollower(ctx, toID, fromID) })
		case !following && followed:
			fixes = append(fixes, func(ctx context.Context) error { return s.repo.AddFollowing(ctx, fromID, toID) })
		}
		completed = len(fixes) > 0
	}

	for _, fix := range fixes {
		if err := s.settings.retry(ctx, fix); err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, false, errs.Storage("failed to repair relationship", err)
		}
	}
	if completed || dropped {
		s.log.Info(ctx, "relationship repaired", "from", fromID, "to", toID, "completed", completed)
	}
	return completed, dropped, nil
}

func (s *RelationshipService) lockPair(ctx context.Context, a, b uuid.UUID) (lock.Unlock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.settings.StorageTimeout)
	defer cancel()
	unlock, err := lock.Pair(lockCtx, s.locks, lockKey(a), lockKey(b))
	if err != nil {
		return nil, errs.Storage("timed out waiting for relationship lock", err)
	}
	return unlock, nil
}

func (s *RelationshipService) get(ctx context.Context, id uuid.UUID) (types.User, error) {
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

// undo reverses one half. A user that no longer exists holds no edge to
// reverse, so ErrNotFound counts as rolled back.
func (s *RelationshipService) undo(ctx context.Context, fn half) error {
	err := s.settings.retry(ctx, fn)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (s *RelationshipService) writeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound("user not found")
	}
	return errs.Storage("failed to update relationship", err)
}

func withoutID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
