// Package session holds the credentials of the logged in user and the
// operations that change them. A Session is passed explicitly to whatever
// needs to authenticate; nothing reads it from ambient state.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tripwise/tripwise-client/api"
)

const (
	// expiryLeeway is how long before its exp claim a token counts as expired.
	expiryLeeway = 10 * time.Second
	// refreshTimeout bounds a shared refresh once its callers are gone.
	refreshTimeout = 30 * time.Second
)

var (
	ErrNoSession      = fmt.Errorf("no session")
	ErrNoRefreshToken = fmt.Errorf("no refresh token")
	ErrNoExpiry       = fmt.Errorf("token has no expiration")
)

// Refresher exchanges a refresh token for a new token pair. It is satisfied
// by *api.Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*api.LoginResponse, error)
}

// Session is the access and refresh token pair of the logged in user. It is
// safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	tokens    Tokens
	store     Store
	refresher Refresher
	clock     TimeProvider
	group     singleflight.Group
}

// New creates a session backed by store, loading any tokens it holds.
// clock may be nil to use the system time.
func New(store Store, refresher Refresher, clock TimeProvider) (*Session, error) {
	if store == nil {
		store = &MemoryStore{}
	}
	if clock == nil {
		clock = RealTimeProvider{}
	}
	tokens, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Session{
		tokens:    tokens,
		store:     store,
		refresher: refresher,
		clock:     clock,
	}, nil
}

// SetRefresher sets the backend used by Refresh. It allows building the
// session before the client that depends on it.
func (s *Session) SetRefresher(r Refresher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresher = r
}

// AccessToken returns the current access token, or an empty string.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.AccessToken
}

// Tokens returns a copy of the current token pair.
func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// LoggedIn reports whether the session holds an access token.
func (s *Session) LoggedIn() bool {
	return !s.Tokens().Empty()
}

// Set replaces the token pair, typically after login, and persists it.
func (s *Session) Set(t Tokens) error {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
	return s.store.Save(t)
}

// SetLogin stores the tokens returned by a login or register call.
func (s *Session) SetLogin(lr *api.LoginResponse) error {
	if lr == nil || lr.AccessToken == "" {
		return ErrNoSession
	}
	return s.Set(Tokens{AccessToken: lr.AccessToken, RefreshToken: lr.RefreshToken})
}

// Refresh obtains a new access token with the refresh token and stores the
// new pair. Concurrent calls share a single backend request, which is not
// cancelled when one of the callers goes away. A caller whose ctx is done
// returns ctx.Err() while the shared request completes for the others. On
// failure the current tokens are left untouched.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			log.Debug().Msg("joined in-flight token refresh")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	refreshToken := s.tokens.RefreshToken
	refresher := s.refresher
	s.mu.RUnlock()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}
	if refresher == nil {
		return "", fmt.Errorf("no refresher configured")
	}
	lr, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("could not refresh session: %w", err)
	}
	if lr.AccessToken == "" {
		return "", fmt.Errorf("could not refresh session: empty access token")
	}
	next := Tokens{AccessToken: lr.AccessToken, RefreshToken: lr.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	if err := s.Set(next); err != nil {
		log.Warn().Err(err).Msg("could not persist refreshed session")
	}
	log.Debug().Msg("session refreshed")
	return next.AccessToken, nil
}

// Logout drops the tokens and clears the store.
func (s *Session) Logout() {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()
	if err := s.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("could not clear session store")
	}
	log.Info().Msg("logged out")
}

// ExpiresAt returns the exp claim of the access token. The signature is not
// verified; the backend does that.
func (s *Session) ExpiresAt() (time.Time, error) {
	token := s.AccessToken()
	if token == "" {
		return time.Time{}, ErrNoSession
	}
	tok, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse access token: %w", err)
	}
	exp := tok.Expiration()
	if exp.IsZero() {
		return time.Time{}, ErrNoExpiry
	}
	return exp, nil
}

// Expired reports whether the access token is past, or about to reach, its
// expiration. Tokens whose expiry cannot be read are not considered
// expired; the backend answers 401 for those if needed.
func (s *Session) Expired() bool {
	exp, err := s.ExpiresAt()
	if err != nil {
		return false
	}
	return !s.clock.Now().Add(expiryLeeway).Before(exp)
}

// Valid returns an access token, refreshing it first if it has expired.
func (s *Session) Valid(ctx context.Context) (string, error) {
	if !s.LoggedIn() {
		return "", ErrNoSession
	}
	if s.Expired() {
		return s.Refresh(ctx)
	}
	return s.AccessToken(), nil
}

// AuthHelper returns the session operations in the form api.Request
// expects. navigate may be nil.
func (s *Session) AuthHelper(navigate func(to string)) *api.AuthHelper {
	return &api.AuthHelper{
		Refresh:  s.Refresh,
		Logout:   s.Logout,
		Navigate: navigate,
	}
}
