// Package lock provides mutual exclusion keyed by identity id.
package lock

import (
	"context"
	"sync"
)

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker acquires exclusive access to a key, blocking until the lock is held
// or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Pair locks both keys, always acquiring the lexically lower key first so
// two opposite-direction callers cannot deadlock. Equal keys take one lock.
func Pair(ctx context.Context, l Locker, a, b string) (Unlock, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	unlockFirst, err := l.Lock(ctx, first)
	if err != nil {
		return nil, err
	}
	if first == second {
		return unlockFirst, nil
	}

	unlockSecond, err := l.Lock(ctx, second)
	if err != nil {
		unlockFirst()
		return nil, err
	}
	return once(func() {
		unlockSecond()
		unlockFirst()
	}), nil
}

func once(fn func()) Unlock {
	var o sync.Once
	return func() { o.Do(fn) }
}
