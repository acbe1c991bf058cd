// Package mq is a broker-agnostic message queue over RabbitMQ and Pub/Sub.
package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Attribute keys with a meaning to the backends. Backends with a native
// field for one map it there.
const (
	AttrContentType = "content_type"

	// AttrOrderingKey groups messages that must be delivered in publish
	// order. Pub/Sub honors it; RabbitMQ queues are FIFO already.
	AttrOrderingKey = "ordering_key"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mq: closed")

	errNoChannel = errors.New("mq: channel is required")
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Pinger is implemented by backends that can report their connection state.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MQ wraps a backend, validates channel names and refuses work after Close.
type MQ struct {
	backend Backend

	mu     sync.RWMutex
	closed bool
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish sends a message to the named channel.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errNoChannel
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrClosed
	}
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe consumes messages from the named channel until ctx is done or
// the backend fails.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errNoChannel
	}
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return m.backend.Subscribe(ctx, channel, handler)
}

// Ping reports whether the backend is reachable. Backends that cannot tell
// are assumed healthy.
func (m *MQ) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if p, ok := m.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the underlying backend. Later calls are no-ops.
func (m *MQ) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.backend.Close()
}
