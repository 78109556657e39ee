package session

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

// ErrNoSession is returned when no identity has been stored yet.
var ErrNoSession = errors.New("no active session")

// Store holds the authenticated identity for the lifetime of the client
// session. It is the only place the bearer credential lives; logout clears it.
type Store struct {
	mu       sync.RWMutex
	identity *models.Identity
	logger   zerolog.Logger
}

func NewStore() *Store {
	return &Store{logger: log.With().Str("component", "session").Logger()}
}

// Begin stores the identity returned by a successful login.
func (s *Store) Begin(id models.Identity) {
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()
	s.logger.Info().Int64("user_id", id.UserID).Str("username", id.Username).Msg("session started")
}

// Identity returns the current identity, or ErrNoSession.
func (s *Store) Identity() (models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return models.Identity{}, ErrNoSession
	}
	return *s.identity, nil
}

// Token returns the bearer credential for API calls, empty when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Token
}

// Active reports whether an identity is held.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

// Clear drops the identity and credential. Idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.identity != nil
	s.identity = nil
	s.mu.Unlock()
	if had {
		s.logger.Info().Msg("session cleared")
	}
}

// Claims decodes the registered claims out of the held access token without
// verifying the signature; the client has no key, and the token stays opaque
// as a credential. Used to report expiry and cross-check the embedded subject.
func (s *Store) Claims() (*models.TokenClaims, error) {
	s.mu.RLock()
	identity := s.identity
	s.mu.RUnlock()
	if identity == nil {
		return nil, ErrNoSession
	}
	return decodeClaims(identity.Token)
}

func decodeClaims(token string) (*models.TokenClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, err
	}

	out := &models.TokenClaims{}
	// The server issues the user id under "sub"; tolerate "user_id" as well.
	if sub, ok := claims["sub"].(float64); ok {
		out.UserID = int64(sub)
	} else if uid, ok := claims["user_id"].(float64); ok {
		out.UserID = int64(uid)
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out, nil
}

// Expired reports whether the held token has passed its expiry claim. A token
// without an exp claim never expires from the client's point of view.
func (s *Store) Expired() bool {
	claims, err := s.Claims()
	if err != nil {
		return false
	}
	return !claims.ExpiresAt.IsZero() && time.Now().After(claims.ExpiresAt)
}
