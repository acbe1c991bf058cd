package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg := LoadConfig()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, PhotoBackendInline, cfg.PhotoBackend)
	assert.Equal(t, LockBackendLocal, cfg.LockBackend)
	assert.Equal(t, MQBackendNone, cfg.MQBackend)
	assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
	assert.Equal(t, 3, cfg.RelationshipRetry.Attempts)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("STORAGE_TIMEOUT", "250ms")
	t.Setenv("RELATIONSHIP_RETRIES", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("REDIS_LOCK_TTL", "not-a-duration")

	cfg := LoadConfig()
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, StoreBackendMongo, cfg.StoreBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.StorageTimeout)
	assert.Equal(t, 5, cfg.RelationshipRetry.Attempts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Minio.UseSSL)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL, "unparseable durations fall back to the default")
}

func TestValidate(t *testing.T) {
	valid := Config{
		JWTSecret:         "secret",
		StoreBackend:      StoreBackendMemory,
		PhotoBackend:      PhotoBackendInline,
		LockBackend:       LockBackendLocal,
		MQBackend:         MQBackendNone,
		RelationshipRetry: RetryConfig{Attempts: 1},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET is required"},
		{"unknown store", func(c *Config) { c.StoreBackend = "sqlite" }, `unknown STORE_BACKEND "sqlite"`},
		{"minio without keys", func(c *Config) { c.PhotoBackend = PhotoBackendMinio }, "MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required"},
		{"gcs without bucket", func(c *Config) { c.PhotoBackend = PhotoBackendGCS }, "GCS_BUCKET is required"},
		{"unknown lock", func(c *Config) { c.LockBackend = "etcd" }, `unknown LOCK_BACKEND "etcd"`},
		{"pubsub without project", func(c *Config) { c.MQBackend = MQBackendPubSub }, "PUBSUB_PROJECT_ID is required"},
		{"no attempts", func(c *Config) { c.RelationshipRetry.Attempts = 0 }, "RELATIONSHIP_RETRIES must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
