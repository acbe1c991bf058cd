package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	publishes int
	closes    int
	pingErr   error
}

func (s *stubBackend) Publish(context.Context, string, []byte, map[string]string) (string, error) {
	s.publishes++
	return "id", nil
}

func (s *stubBackend) Subscribe(context.Context, string, Handler) error { return nil }

func (s *stubBackend) Close() error {
	s.closes++
	return nil
}

type pingingBackend struct {
	stubBackend
}

func (p *pingingBackend) Ping(context.Context) error { return p.pingErr }

func TestMQ_RejectsEmptyChannel(t *testing.T) {
	backend := &stubBackend{}
	q := New(backend)

	_, err := q.Publish(context.Background(), "  ", nil, nil)
	assert.Error(t, err)
	assert.Error(t, q.Subscribe(context.Background(), "", func(context.Context, Message) error { return nil }))
	assert.Zero(t, backend.publishes)
}

func TestMQ_RefusesWorkAfterClose(t *testing.T) {
	backend := &stubBackend{}
	q := New(backend)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.Equal(t, 1, backend.closes)

	_, err := q.Publish(context.Background(), "events", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Ping(context.Background()), ErrClosed)
}

func TestMQ_PingUsesBackendWhenSupported(t *testing.T) {
	assert.NoError(t, New(&stubBackend{}).Ping(context.Background()))

	down := errors.New("down")
	backend := &pingingBackend{}
	backend.pingErr = down
	assert.ErrorIs(t, New(backend).Ping(context.Background()), down)
}
