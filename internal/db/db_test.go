package db

import (
	"net/url"
	"testing"

	"github.com/nodesocial/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "social",
		Password: "p@ss/word",
		DBName:   "social_db",
		UseSSL:   true,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/social_db", u.Path)
	assert.Equal(t, "require", u.Query().Get("sslmode"))

	password, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", password)
}

func TestDSN_DisablesSSLByDefault(t *testing.T) {
	u, err := url.Parse(DSN(config.DatabaseConfig{Host: "localhost", Port: 5432}))
	require.NoError(t, err)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}
