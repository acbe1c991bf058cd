package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/nodesocial/apiserver/config"
	"github.com/nodesocial/apiserver/internal/db"
	"github.com/nodesocial/apiserver/internal/events"
	"github.com/nodesocial/apiserver/internal/handlers"
	"github.com/nodesocial/apiserver/internal/lock"
	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/mq"
	"github.com/nodesocial/apiserver/internal/services"
	"github.com/nodesocial/apiserver/internal/storage"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/internal/store/memstore"
	"github.com/nodesocial/apiserver/internal/store/mongostore"
)

// UserStore is what every user backend provides.
type UserStore interface {
	services.UserRepository
	services.RelationshipRepository
}

// Backends holds the storage, lock and messaging clients selected by config.
type Backends struct {
	Users  UserStore
	Posts  services.PostRepository
	Blobs  services.PhotoBlobs
	Locks  lock.Locker
	Queue  *mq.MQ
	Events services.EventPublisher
	Health map[string]handlers.HealthCheck

	closers []func() error
}

// OpenBackends connects every backend cfg selects. On error, anything
// already opened is closed.
func OpenBackends(ctx context.Context, cfg config.Config, log logging.Logger) (b *Backends, err error) {
	b = &Backends{Health: make(map[string]handlers.HealthCheck)}
	defer func() {
		if err != nil {
			_ = b.Close()
			b = nil
		}
	}()

	if err := b.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := b.openBlobs(ctx, cfg); err != nil {
		return nil, err
	}
	if err := b.openLocks(ctx, cfg); err != nil {
		return nil, err
	}
	if err := b.openQueue(ctx, cfg, log); err != nil {
		return nil, err
	}

	log.Info(ctx, "backends ready",
		"store", cfg.StoreBackend,
		"photos", cfg.PhotoBackend,
		"locks", cfg.LockBackend,
		"mq", cfg.MQBackend,
	)
	return b, nil
}

func (b *Backends) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		b.closers = append(b.closers, conn.Close)
		b.Users = store.NewUserRepository(conn)
		b.Posts = store.NewPostRepository(conn)
		b.Health["postgres"] = conn.PingContext
	case config.StoreBackendMongo:
		client, database, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("open mongo: %w", err)
		}
		b.closers = append(b.closers, func() error { return client.Disconnect(context.Background()) })
		if err := mongostore.EnsureIndexes(ctx, database); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		b.Users = mongostore.NewUserRepository(database)
		b.Posts = mongostore.NewPostRepository(database)
		b.Health["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	case config.StoreBackendMemory:
		mem := memstore.New()
		b.Users = memstore.NewUserRepository(mem)
		b.Posts = memstore.NewPostRepository(mem)
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return nil
}

func (b *Backends) openBlobs(ctx context.Context, cfg config.Config) error {
	var backend storage.ObjectStorage
	switch cfg.PhotoBackend {
	case config.PhotoBackendInline:
		return nil
	case config.PhotoBackendMinio:
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return fmt.Errorf("open minio: %w", err)
		}
		backend = client
	case config.PhotoBackendGCS:
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return fmt.Errorf("open gcs: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		backend = client
	default:
		return fmt.Errorf("unknown photo backend %q", cfg.PhotoBackend)
	}

	photos := storage.NewStorage(backend)
	if err := photos.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", photos.Bucket(), err)
	}
	b.Blobs = photos
	b.Health["photos"] = photos.Ping
	return nil
}

func (b *Backends) openLocks(ctx context.Context, cfg config.Config) error {
	switch cfg.LockBackend {
	case config.LockBackendLocal:
		b.Locks = lock.NewLocal()
	case config.LockBackendRedis:
		client, err := lock.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Locks = lock.NewRedis(client, cfg.Redis.LockTTL)
		b.Health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	default:
		return fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
	return nil
}

func (b *Backends) openQueue(ctx context.Context, cfg config.Config, log logging.Logger) error {
	var backend mq.Backend
	switch cfg.MQBackend {
	case config.MQBackendNone:
		b.Events = events.Nop{}
		return nil
	case config.MQBackendRabbitMQ:
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("open rabbitmq: %w", err)
		}
		backend = client
	case config.MQBackendPubSub:
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return fmt.Errorf("open pubsub: %w", err)
		}
		backend = client
	default:
		return fmt.Errorf("unknown mq backend %q", cfg.MQBackend)
	}

	b.Queue = mq.New(backend)
	b.closers = append(b.closers, b.Queue.Close)
	b.Health["mq"] = b.Queue.Ping
	b.Events = events.NewPublisher(b.Queue, cfg.Events.Channel, log.With("component", "events"))
	return nil
}

// Close releases every opened client in reverse order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
