// Package auth caches the backend access token and refreshes it at most once at a time.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrEmptyToken is returned when the fetcher hands back an empty token.
var ErrEmptyToken = errors.New("auth: empty token")

// Fetcher obtains a brand new access token.
type Fetcher interface {
	FetchToken(ctx context.Context) (string, error)
}

// TokenSource serves a cached token until shortly before it expires. Concurrent callers
// that find it stale all wait on the same refresh.
type TokenSource struct {
	fetcher Fetcher
	leeway  time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	token   string
	expires time.Time
}

// NewTokenSource builds a token source. Tokens are refreshed leeway before their exp claim.
func NewTokenSource(fetcher Fetcher, leeway time.Duration, logger *zap.Logger) *TokenSource {
	return &TokenSource{
		fetcher: fetcher,
		leeway:  leeway,
		timeout: 10 * time.Second,
		now:     time.Now,
		logger:  logger,
	}
}

// Token returns a valid token, fetching a new one when needed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	ch := s.group.DoChan("token", func() (interface{}, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		// The refresh outlives any one caller's cancellation; other waiters depend on it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		tok, err := s.fetcher.FetchToken(fetchCtx)
		if err != nil {
			return "", err
		}
		if tok == "" {
			return "", ErrEmptyToken
		}
		s.store(tok)
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops stale if it is still the cached token.
func (s *TokenSource) Invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
		s.expires = time.Time{}
	}
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	if !s.expires.IsZero() && !s.now().Add(s.leeway).Before(s.expires) {
		return "", false
	}
	return s.token, true
}

func (s *TokenSource) store(tok string) {
	exp := expiryOf(tok)
	if exp.IsZero() {
		s.logger.Debug("access token carries no exp claim, caching until rejected")
	}
	s.mu.Lock()
	s.token = tok
	s.expires = exp
	s.mu.Unlock()
}

// expiryOf reads the exp claim without verifying the signature; the backend verifies.
func expiryOf(tok string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
