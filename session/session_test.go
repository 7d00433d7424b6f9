package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tripwise/tripwise-client/api"
	"github.com/tripwise/tripwise-client/test/utils"
)

// signToken returns an HS256 token expiring at exp.
func signToken(t *testing.T, userID string, exp time.Time) string {
	j := jwt.New()
	qt.Assert(t, j.Set("userId", userID), qt.IsNil)
	qt.Assert(t, j.Set(jwt.ExpirationKey, exp.Unix()), qt.IsNil)
	signed, err := jwt.Sign(j, jwt.WithKey(jwa.HS256, []byte("secret")))
	qt.Assert(t, err, qt.IsNil)
	return string(signed)
}

// fakeRefresher hands out numbered tokens and counts the calls.
type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	keep    bool
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*api.LoginResponse, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	lr := &api.LoginResponse{AccessToken: fmt.Sprintf("access-%d", n)}
	if !f.keep {
		lr.RefreshToken = fmt.Sprintf("refresh-%d", n)
	}
	return lr, nil
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripwise", "session.json")
	store := NewFileStore(path)

	tokens, err := store.Load()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, tokens.Empty(), qt.IsTrue)

	want := Tokens{AccessToken: "a", RefreshToken: "r"}
	qt.Assert(t, store.Save(want), qt.IsNil)
	info, err := os.Stat(path)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, info.Mode().Perm(), qt.Equals, os.FileMode(0o600))

	tokens, err = store.Load()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, tokens, qt.Equals, want)

	qt.Assert(t, store.Clear(), qt.IsNil)
	qt.Assert(t, store.Clear(), qt.IsNil)
	tokens, err = store.Load()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, tokens.Empty(), qt.IsTrue)

	qt.Assert(t, os.WriteFile(path, []byte("{not json"), 0o600), qt.IsNil)
	_, err = store.Load()
	qt.Assert(t, err, qt.IsNotNil)
}

func TestSessionRefresh(t *testing.T) {
	t.Run("Stores New Pair", func(t *testing.T) {
		store := &MemoryStore{}
		qt.Assert(t, store.Save(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)
		s, err := New(store, &fakeRefresher{}, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.AccessToken(), qt.Equals, "old")

		token, err := s.Refresh(context.Background())
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, token, qt.Equals, "access-1")
		qt.Assert(t, s.Tokens(), qt.Equals, Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"})
		persisted, _ := store.Load()
		qt.Assert(t, persisted, qt.Equals, s.Tokens())
	})

	t.Run("Keeps Refresh Token", func(t *testing.T) {
		s, err := New(nil, &fakeRefresher{keep: true}, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)
		_, err = s.Refresh(context.Background())
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Tokens().RefreshToken, qt.Equals, "r0")
	})

	t.Run("Failure Leaves Tokens", func(t *testing.T) {
		s, err := New(nil, &fakeRefresher{err: errors.New("revoked")}, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)
		_, err = s.Refresh(context.Background())
		qt.Assert(t, err, qt.ErrorMatches, "could not refresh session: revoked")
		qt.Assert(t, s.AccessToken(), qt.Equals, "old")
	})

	t.Run("No Refresh Token", func(t *testing.T) {
		refresher := &fakeRefresher{}
		s, err := New(nil, refresher, nil)
		qt.Assert(t, err, qt.IsNil)
		_, err = s.Refresh(context.Background())
		qt.Assert(t, err, qt.ErrorIs, ErrNoRefreshToken)
		qt.Assert(t, refresher.calls.Load(), qt.Equals, int32(0))
	})

	t.Run("Concurrent Calls Share One Request", func(t *testing.T) {
		refresher := &fakeRefresher{release: make(chan struct{})}
		s, err := New(nil, refresher, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)

		var wg sync.WaitGroup
		tokens := make([]string, 5)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tokens[i], _ = s.Refresh(context.Background())
			}(i)
		}
		time.Sleep(200 * time.Millisecond)
		close(refresher.release)
		wg.Wait()
		qt.Assert(t, refresher.calls.Load(), qt.Equals, int32(1))
		for _, tok := range tokens {
			qt.Assert(t, tok, qt.Equals, "access-1")
		}
	})
}

func TestSessionRefreshCancellation(t *testing.T) {
	t.Run("Cancelled Caller Leaves Shared Refresh Running", func(t *testing.T) {
		refresher := &fakeRefresher{release: make(chan struct{})}
		s, err := New(nil, refresher, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)

		ctx, cancel := context.WithCancel(context.Background())
		first := make(chan error, 1)
		go func() {
			_, err := s.Refresh(ctx)
			first <- err
		}()
		for refresher.calls.Load() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		second := make(chan string, 1)
		go func() {
			token, _ := s.Refresh(context.Background())
			second <- token
		}()
		cancel()
		qt.Assert(t, <-first, qt.ErrorIs, context.Canceled)

		time.Sleep(100 * time.Millisecond)
		close(refresher.release)
		qt.Assert(t, <-second, qt.Equals, "access-1")
		qt.Assert(t, refresher.calls.Load(), qt.Equals, int32(1))
		qt.Assert(t, s.AccessToken(), qt.Equals, "access-1")
	})

	t.Run("Request Of Remaining Caller Succeeds", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer access-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"ok":true}`)
		}))
		defer srv.Close()

		refresher := &fakeRefresher{release: make(chan struct{})}
		s, err := New(nil, refresher, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)

		var mu sync.Mutex
		var navigated []string
		helper := s.AuthHelper(func(to string) {
			mu.Lock()
			defer mu.Unlock()
			navigated = append(navigated, to)
		})
		send := func(ctx context.Context, errs chan<- error) {
			_, err := api.Request(ctx, srv.Client(), srv.URL, &api.RequestOptions{
				Token: s.AccessToken(),
				Auth:  helper,
			})
			errs <- err
		}

		ctx, cancel := context.WithCancel(context.Background())
		first, second := make(chan error, 1), make(chan error, 1)
		go send(ctx, first)
		for refresher.calls.Load() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		go send(context.Background(), second)
		time.Sleep(100 * time.Millisecond)
		cancel()
		qt.Assert(t, api.IsAborted(<-first), qt.IsTrue)

		close(refresher.release)
		qt.Assert(t, <-second, qt.IsNil)
		qt.Assert(t, s.LoggedIn(), qt.IsTrue)
		mu.Lock()
		qt.Assert(t, navigated, qt.HasLen, 0)
		mu.Unlock()
	})
}

func TestSessionLogout(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "session.json"))
	s, err := New(store, nil, nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, s.SetLogin(&api.LoginResponse{AccessToken: "a", RefreshToken: "r"}), qt.IsNil)
	qt.Assert(t, s.LoggedIn(), qt.IsTrue)

	s.Logout()
	qt.Assert(t, s.LoggedIn(), qt.IsFalse)
	persisted, err := store.Load()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, persisted.Empty(), qt.IsTrue)

	// a new session over the same store starts logged out
	s, err = New(store, nil, nil)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, s.LoggedIn(), qt.IsFalse)

	qt.Assert(t, s.SetLogin(&api.LoginResponse{}), qt.ErrorIs, ErrNoSession)
}

func TestSessionExpiry(t *testing.T) {
	clock := &utils.MockTimeProvider{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock.SetTime(now)

	refresher := &fakeRefresher{}
	s, err := New(nil, refresher, clock)
	qt.Assert(t, err, qt.IsNil)

	_, err = s.ExpiresAt()
	qt.Assert(t, err, qt.ErrorIs, ErrNoSession)
	_, err = s.Valid(context.Background())
	qt.Assert(t, err, qt.ErrorIs, ErrNoSession)

	exp := now.Add(15 * time.Minute)
	access := signToken(t, "user1", exp)
	qt.Assert(t, s.Set(Tokens{AccessToken: access, RefreshToken: "r0"}), qt.IsNil)

	got, err := s.ExpiresAt()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got.Unix(), qt.Equals, exp.Unix())
	qt.Assert(t, s.Expired(), qt.IsFalse)

	token, err := s.Valid(context.Background())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, token, qt.Equals, access)
	qt.Assert(t, refresher.calls.Load(), qt.Equals, int32(0))

	// within the leeway counts as expired
	clock.AdvanceTime(15*time.Minute - 5*time.Second)
	qt.Assert(t, s.Expired(), qt.IsTrue)

	token, err = s.Valid(context.Background())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, token, qt.Equals, "access-1")
	qt.Assert(t, refresher.calls.Load(), qt.Equals, int32(1))

	// opaque tokens are never considered expired
	qt.Assert(t, s.Expired(), qt.IsFalse)
}

func TestSessionAuthHelper(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"name":"Lisbon"}`)
	}))
	defer srv.Close()

	t.Run("Refreshes Once", func(t *testing.T) {
		attempts.Store(0)
		s, err := New(nil, &fakeRefresher{}, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)

		body, err := api.Request(context.Background(), srv.Client(), srv.URL, &api.RequestOptions{
			Token: s.AccessToken(),
			Auth:  s.AuthHelper(nil),
		})
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, string(body), qt.Equals, `{"name":"Lisbon"}`)
		qt.Assert(t, attempts.Load(), qt.Equals, int32(2))
		qt.Assert(t, s.AccessToken(), qt.Equals, "access-1")
	})

	t.Run("Failed Refresh Logs Out", func(t *testing.T) {
		attempts.Store(0)
		s, err := New(nil, &fakeRefresher{err: errors.New("revoked")}, nil)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, s.Set(Tokens{AccessToken: "old", RefreshToken: "r0"}), qt.IsNil)

		var navigated []string
		_, err = api.Request(context.Background(), srv.Client(), srv.URL, &api.RequestOptions{
			Token: s.AccessToken(),
			Auth:  s.AuthHelper(func(to string) { navigated = append(navigated, to) }),
		})
		qt.Assert(t, err, qt.ErrorIs, api.ErrUnauthorizedAfterRefresh)
		qt.Assert(t, s.LoggedIn(), qt.IsFalse)
		qt.Assert(t, navigated, qt.DeepEquals, []string{api.DefaultLoginPath})
		qt.Assert(t, attempts.Load(), qt.Equals, int32(1))
	})
}
