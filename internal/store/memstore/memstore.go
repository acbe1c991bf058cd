// Package memstore keeps users and posts in process memory. It backs
// STORE_BACKEND=memory and the service tests.
package memstore

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/types"
)

// DB is the shared state behind the in-memory repositories.
type DB struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]*types.User
	order  []uuid.UUID
	emails map[string]uuid.UUID
	posts  []types.Post
}

func New() *DB {
	return &DB{
		users:  make(map[uuid.UUID]*types.User),
		emails: make(map[string]uuid.UUID),
	}
}

// clone returns a copy of u that shares no mutable state with the store.
// Inline photo data is only kept when withData is set.
func clone(u *types.User, withData bool) types.User {
	out := *u
	out.Followers = append([]uuid.UUID{}, u.Followers...)
	out.Following = append([]uuid.UUID{}, u.Following...)
	if u.Photo != nil {
		photo := *u.Photo
		if withData {
			photo.Data = append([]byte(nil), u.Photo.Data...)
		} else {
			photo.Data = nil
		}
		out.Photo = &photo
	}
	return out
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func paginate(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}
