package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "user:a")
			if err != nil {
				t.Error(err)
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.size())
}

func TestLocal_ContextCanceledWhileWaiting(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "user:a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "user:a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := l.Lock(ctx, "user:a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(ctx, "user:b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "user:a")
	require.NoError(t, err)

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "user:a")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, l.size())
}

func TestPair_OppositeOrderDoesNotDeadlock(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		a, b := "user:a", "user:b"
		if i%2 == 1 {
			a, b = b, a
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := Pair(ctx, l, a, b)
			if err != nil {
				t.Error(err)
				return
			}
			unlock()
		}()
	}
	wg.Wait()
	require.NoError(t, ctx.Err())
}

func TestPair_SameKey(t *testing.T) {
	l := NewLocal()
	unlock, err := Pair(context.Background(), l, "user:a", "user:a")
	require.NoError(t, err)
	unlock()
	assert.Equal(t, 0, l.size())
}
