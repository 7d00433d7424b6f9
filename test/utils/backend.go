package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/tripwise-client/api"
	"github.com/tripwise/tripwise-client/types"
)

const (
	jwtSecret = "secret"
	// AccessTokenTTL is the lifetime of the access tokens minted by the fake backend.
	AccessTokenTTL = 15 * time.Minute
)

type fakeUser struct {
	types.User
	password string
}

type cannedError struct {
	status int
	body   api.ErrorBody
}

// FakeBackend is an in-memory travel-planning backend for tests. Access
// tokens expire according to its mock clock, so tests can force a 401 by
// advancing it.
type FakeBackend struct {
	t     *testing.T
	srv   *httptest.Server
	auth  *jwtauth.JWTAuth
	clock *MockTimeProvider

	mu               sync.Mutex
	users            map[string]*fakeUser // by email
	refreshTokens    map[string]string    // token -> user id
	trips            map[string]*types.Trip
	owners           map[string]string // trip id -> user id
	nextID           int
	hits             map[string]int
	lastSuggestion   map[string]any
	suggestionsErr   *cannedError
	suggestionsDelay time.Duration
	refreshDelay     time.Duration
	suggestions      []api.Suggestion
}

// NewFakeBackend starts a fake backend, closed when the test ends.
func NewFakeBackend(t *testing.T) *FakeBackend {
	b := &FakeBackend{
		t:             t,
		auth:          jwtauth.New("HS256", []byte(jwtSecret), nil),
		clock:         NewMockTimeProvider(),
		users:         make(map[string]*fakeUser),
		refreshTokens: make(map[string]string),
		trips:         make(map[string]*types.Trip),
		owners:        make(map[string]string),
		hits:          make(map[string]int),
		suggestions: []api.Suggestion{
			{Name: "Bar del Pla", Category: types.CategoryFood, Lat: 41.3846, Lon: 2.1804},
			{Name: "Palau de la Música", Category: types.CategorySights, Lat: 41.3875, Lon: 2.1753},
		},
	}
	b.srv = httptest.NewServer(b.router())
	t.Cleanup(b.srv.Close)
	return b
}

// URL returns the base URL of the backend.
func (b *FakeBackend) URL() string {
	return b.srv.URL
}

// Clock returns the clock used to mint and validate access tokens.
func (b *FakeBackend) Clock() *MockTimeProvider {
	return b.clock
}

// Hits returns how many requests reached method and path.
func (b *FakeBackend) Hits(method, urlPath string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[method+" "+urlPath]
}

// RevokeRefreshTokens makes every issued refresh token invalid.
func (b *FakeBackend) RevokeRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshTokens = make(map[string]string)
}

// FailSuggestions makes the map suggestion endpoint answer with status and
// body. A zero status restores the normal answers.
func (b *FakeBackend) FailSuggestions(status int, body api.ErrorBody) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		b.suggestionsErr = nil
		return
	}
	b.suggestionsErr = &cannedError{status: status, body: body}
}

// SetSuggestions replaces the places returned by the map suggestion endpoint.
func (b *FakeBackend) SetSuggestions(s []api.Suggestion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suggestions = s
}

// DelaySuggestions holds every map suggestion response for d, or until the
// client goes away.
func (b *FakeBackend) DelaySuggestions(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suggestionsDelay = d
}

// DelayRefresh holds every token refresh response for d, or until the
// client goes away.
func (b *FakeBackend) DelayRefresh(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// LastSuggestionRequest returns the body of the last map suggestion request.
func (b *FakeBackend) LastSuggestionRequest() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSuggestion
}

// router creates the router with all the routes and middleware.
func (b *FakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	r.Use(middleware.Recoverer)
	r.Use(b.countHits)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(b.auth))
		r.Use(b.authenticator)

		r.Get("/users/me", b.currentUser)
		r.Put("/users/me", b.updateUser)
		r.Get("/trips", b.listTrips)
		r.Post("/trips", b.createTrip)
		r.Get("/trips/{id}", b.getTrip)
		r.Put("/trips/{id}", b.updateTrip)
		r.Delete("/trips/{id}", b.deleteTrip)
		r.Get("/trips/{id}/tips", b.tripTips)
		r.Post("/suggestions/map", b.mapSuggestions)
	})

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})
		r.Post("/auth/register", b.register)
		r.Post("/auth/login", b.login)
		r.Post("/auth/refresh", b.refresh)
		r.Post("/suggestions/destinations", b.destinations)
	})
	return r
}

func (b *FakeBackend) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[r.Method+" "+r.URL.Path]++
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// authenticator rejects requests without a valid token. Expiry is checked
// against the mock clock. The user id is passed on in the X-User-Id header.
func (b *FakeBackend) authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := jwt.Validate(token,
			jwt.WithClock(jwt.ClockFunc(b.clock.Now)),
			jwt.WithRequiredClaim("userId"),
		); err != nil {
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		}
		userID, _ := claims["userId"].(string)
		r.Header.Set("X-User-Id", userID)
		next.ServeHTTP(w, r)
	})
}

// makeTokens mints an access token for the user and a new refresh token.
func (b *FakeBackend) makeTokens(userID string) (*api.LoginResponse, error) {
	claims := map[string]interface{}{"userId": userID}
	jwtauth.SetExpiry(claims, b.clock.Now().Add(AccessTokenTTL))
	_, access, err := b.auth.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}
	refresh := uuid.New().String()
	b.mu.Lock()
	b.refreshTokens[refresh] = userID
	b.mu.Unlock()
	return &api.LoginResponse{AccessToken: access, RefreshToken: refresh}, nil
}

func (b *FakeBackend) register(w http.ResponseWriter, r *http.Request) {
	var reg api.Register
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil || reg.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	b.mu.Lock()
	if _, ok := b.users[reg.Email]; ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusConflict, api.ErrorBody{Error: "user_exists"})
		return
	}
	b.nextID++
	u := &fakeUser{
		User:     types.User{ID: fmt.Sprintf("u%d", b.nextID), Email: reg.Email, Name: reg.Name},
		password: reg.Password,
	}
	b.users[reg.Email] = u
	b.mu.Unlock()
	b.respondTokens(w, u.ID)
}

func (b *FakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var login api.Login
	if err := json.NewDecoder(r.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	b.mu.Lock()
	u, ok := b.users[login.Email]
	b.mu.Unlock()
	if !ok || u.password != login.Password {
		writeError(w, http.StatusUnauthorized, "wrong password or email")
		return
	}
	b.respondTokens(w, u.ID)
}

func (b *FakeBackend) refresh(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	b.mu.Lock()
	delay := b.refreshDelay
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	b.mu.Lock()
	userID, ok := b.refreshTokens[req.RefreshToken]
	delete(b.refreshTokens, req.RefreshToken)
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	b.respondTokens(w, userID)
}

func (b *FakeBackend) respondTokens(w http.ResponseWriter, userID string) {
	lr, err := b.makeTokens(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lr)
}

func (b *FakeBackend) userByID(id string) *fakeUser {
	for _, u := range b.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (b *FakeBackend) currentUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	u := b.userByID(r.Header.Get("X-User-Id"))
	b.mu.Unlock()
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u.User)
}

func (b *FakeBackend) updateUser(w http.ResponseWriter, r *http.Request) {
	var profile api.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.userByID(r.Header.Get("X-User-Id"))
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if profile.Name != "" {
		u.Name = profile.Name
	}
	if profile.Password != "" {
		u.password = profile.Password
	}
	if profile.Email != "" && profile.Email != u.Email {
		delete(b.users, u.Email)
		u.Email = profile.Email
		b.users[u.Email] = u
	}
	writeJSON(w, http.StatusOK, u.User)
}

func (b *FakeBackend) listTrips(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	b.mu.Lock()
	list := api.TripsWrapper{Trips: []types.TripSummary{}}
	for id, trip := range b.trips {
		if b.owners[id] == userID {
			list.Trips = append(list.Trips, types.TripSummary{ID: trip.ID, Name: trip.Name})
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

// persist assigns ids to the pending trip and markers, and drops the
// markers flagged as deleted. Must be called with b.mu held.
func (b *FakeBackend) persist(trip *types.Trip) {
	if trip.ID.IsPending() {
		b.nextID++
		trip.ID = types.PersistedID(fmt.Sprintf("t%d", b.nextID))
	}
	for _, c := range types.GetAllCategories() {
		kept := []types.Marker{}
		for _, m := range trip.Markers(c) {
			if m.Deleted {
				continue
			}
			if m.ID.IsPending() {
				b.nextID++
				m.ID = types.PersistedID(fmt.Sprintf("m%d", b.nextID))
			}
			kept = append(kept, m)
		}
		trip.SetMarkers(c, kept)
	}
}

func (b *FakeBackend) createTrip(w http.ResponseWriter, r *http.Request) {
	var trip types.Trip
	if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	if trip.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	b.mu.Lock()
	trip.ID = types.NewPendingID()
	b.persist(&trip)
	id, _ := trip.ID.Value()
	b.trips[id] = &trip
	b.owners[id] = r.Header.Get("X-User-Id")
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, &trip)
}

// ownTrip returns the trip in the URL if the user owns it. Must be called
// with b.mu held.
func (b *FakeBackend) ownTrip(r *http.Request) *types.Trip {
	id := chi.URLParam(r, "id")
	trip, ok := b.trips[id]
	if !ok || b.owners[id] != r.Header.Get("X-User-Id") {
		return nil
	}
	return trip
}

func (b *FakeBackend) getTrip(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	trip := b.ownTrip(r)
	if trip == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (b *FakeBackend) updateTrip(w http.ResponseWriter, r *http.Request) {
	var trip types.Trip
	if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := b.ownTrip(r)
	if stored == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	trip.ID = stored.ID
	b.persist(&trip)
	*stored = trip
	writeJSON(w, http.StatusOK, stored)
}

func (b *FakeBackend) deleteTrip(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ownTrip(r) == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	id := chi.URLParam(r, "id")
	delete(b.trips, id)
	delete(b.owners, id)
	w.WriteHeader(http.StatusNoContent)
}

func (b *FakeBackend) tripTips(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	trip := b.ownTrip(r)
	b.mu.Unlock()
	if trip == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, api.TipsWrapper{Tips: []string{
		fmt.Sprintf("Book your stays in %s early", trip.Name),
		"Carry a refillable water bottle",
	}})
}

func (b *FakeBackend) mapSuggestions(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	b.mu.Lock()
	b.lastSuggestion = body
	canned, delay, suggestions := b.suggestionsErr, b.suggestionsDelay, b.suggestions
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if canned != nil {
		writeJSON(w, canned.status, canned.body)
		return
	}
	writeJSON(w, http.StatusOK, api.SuggestionsWrapper{Suggestions: suggestions})
}

func (b *FakeBackend) destinations(w http.ResponseWriter, r *http.Request) {
	var answers map[string]any
	if err := json.NewDecoder(r.Body).Decode(&answers); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body data")
		return
	}
	list := api.DestinationsWrapper{Destinations: []api.Destination{}}
	if answers["climate"] == "warm" {
		list.Destinations = append(list.Destinations,
			api.Destination{Name: "Lisbon", Country: "Portugal", Lat: 38.7223, Lon: -9.1393},
			api.Destination{Name: "Valencia", Country: "Spain", Lat: 39.4699, Lon: -0.3763},
		)
	}
	writeJSON(w, http.StatusOK, list)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorBody{Msg: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

// RegisterAndLogin creates a user and returns its token pair.
func (b *FakeBackend) RegisterAndLogin(email, name, password string) *api.LoginResponse {
	data, code := b.Request(http.MethodPost, "", &api.Register{Email: email, Name: name, Password: password},
		"auth", "register")
	qt.Assert(b.t, code, qt.Equals, http.StatusOK, qt.Commentf("register failed: %s", data))
	var lr api.LoginResponse
	qt.Assert(b.t, json.Unmarshal(data, &lr), qt.IsNil)
	return &lr
}

// Request sends a raw request to the backend and returns the response body
// and status code. If jwt is not empty, it will be sent as a Bearer token.
func (b *FakeBackend) Request(method, jwt string, jsonBody any, urlPath ...string) ([]byte, int) {
	var body io.Reader
	if jsonBody != nil {
		data, err := json.Marshal(jsonBody)
		qt.Assert(b.t, err, qt.IsNil)
		body = bytes.NewReader(data)
	}
	u, err := url.Parse(b.srv.URL)
	qt.Assert(b.t, err, qt.IsNil)
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	req, err := http.NewRequestWithContext(context.Background(), method, u.String(), body)
	qt.Assert(b.t, err, qt.IsNil)
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}
	resp, err := b.srv.Client().Do(req)
	qt.Assert(b.t, err, qt.IsNil)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Logf("read error: %v", err)
	}
	return data, resp.StatusCode
}
