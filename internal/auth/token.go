// Package auth issues and verifies bearer tokens and resolves them to users.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
)

const DefaultTokenTTL = 24 * time.Hour

// UserLookup loads a user by id.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (types.User, error)
}

// Authenticator verifies HS256 tokens whose subject is a user id.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, users UserLookup) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// Issue mints a token for userID.
func (a *Authenticator) Issue(userID uuid.UUID) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Authenticate verifies token and loads the user it names. Invalid, expired
// or orphaned tokens fail with an unauthorized error.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (types.User, error) {
	userID, err := a.Subject(token)
	if err != nil {
		return types.User{}, errs.Unauthorized("unauthorized")
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, errs.Unauthorized("unauthorized")
		}
		return types.User{}, errs.Storage("failed to load user", err)
	}
	return user, nil
}

// Subject verifies token and returns the user id it was issued for.
func (a *Authenticator) Subject(tokenString string) (uuid.UUID, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil {
		return uuid.Nil, err
	}
	if !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return uuid.Nil, errors.New("missing subject")
	}
	return uuid.Parse(claims.Subject)
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
