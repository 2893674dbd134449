// Package auth issues identities for requests and sessions: registration,
// login and stateless token verification.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beacon-im/beacon/internal/store"
)

// ErrInvalidCredentials is returned for any login failure. Unknown email and
// wrong password are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the authenticated caller: a stable user id plus the email that
// keys the personal channel.
type Identity struct {
	UserID string
	Email  string
}

// Service is the auth provider over the store.
type Service struct {
	store    *store.Store
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates an auth service signing tokens with the given secret.
func NewService(st *store.Store, secret []byte, tokenTTL time.Duration) *Service {
	return &Service{store: st, secret: secret, tokenTTL: tokenTTL}
}

// Register creates a new user with a hashed password. Returns
// store.ErrConflict if the email is taken.
func (s *Service) Register(ctx context.Context, email, name, password string) (*store.User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	u := &store.User{
		ID:           store.NewULID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies the credentials and returns a signed identity token with
// the user it belongs to.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	ok, err := comparePassword(password, u.PasswordHash)
	if err != nil || !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(Identity{UserID: u.ID, Email: u.Email})
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

const identityKey = "beacon.identity"

// Middleware rejects requests without a valid bearer token and stores the
// identity in the request context. It runs before any store access.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Unauthorized"})
			return
		}
		id, err := s.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// CurrentIdentity returns the request's authenticated identity. The second
// return value is false when the middleware did not run or rejected the
// request.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Websocket clients cannot set headers from browsers; allow a query
	// parameter fallback.
	return c.Query("token")
}
