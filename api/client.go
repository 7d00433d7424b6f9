package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tripwise/tripwise-client/types"
)

// TokenSource is the session a Client authenticates with. Valid returns an
// access token that has not expired yet, refreshing it first if needed.
type TokenSource interface {
	AccessToken() string
	Valid(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Logout()
}

// ClientConfig holds the parameters of a backend client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Navigate is called with LoginPath when the session is dropped.
	Navigate  func(to string)
	LoginPath string
}

// Client is a typed client of the travel-planning backend.
type Client struct {
	c         *http.Client
	baseURL   *url.URL
	tokens    TokenSource
	navigate  func(to string)
	loginPath string
}

// NewClient creates a backend client. tokens may be nil, in which case only
// the public endpoints can be used.
func NewClient(conf *ClientConfig, tokens TokenSource) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	u, err := url.Parse(conf.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, conf.BaseURL)
	}
	c := conf.HTTPClient
	if c == nil {
		c = &http.Client{Timeout: conf.Timeout}
	}
	loginPath := conf.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return &Client{
		c:         c,
		baseURL:   u,
		tokens:    tokens,
		navigate:  conf.Navigate,
		loginPath: loginPath,
	}, nil
}

// endpoint joins the path elements to the base URL.
func (c *Client) endpoint(urlPath ...string) string {
	u := *c.baseURL
	u.Path = path.Join(append([]string{u.Path}, urlPath...)...)
	return u.String()
}

// public returns the options of an unauthenticated call.
func (c *Client) public(method string, body any) *RequestOptions {
	return &RequestOptions{Method: method, Body: body}
}

// authed returns the options of an authenticated call, with a valid access
// token and the session helpers. If the token could not be renewed up front,
// the current one is sent and a 401 goes through the refresh and retry path.
func (c *Client) authed(ctx context.Context, method string, body any) *RequestOptions {
	opts := &RequestOptions{Method: method, Body: body, LoginPath: c.loginPath}
	if c.tokens == nil {
		return opts
	}
	token, err := c.tokens.Valid(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("could not renew access token before the request")
		token = c.tokens.AccessToken()
	}
	opts.Token = token
	opts.Auth = &AuthHelper{
		Refresh:  c.tokens.Refresh,
		Logout:   c.tokens.Logout,
		Navigate: c.navigate,
	}
	return opts
}

// Login exchanges the user credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	return Decode[LoginResponse](ctx, c.c, c.endpoint("auth", "login"),
		c.public(http.MethodPost, &Login{Email: email, Password: password}))
}

// Register creates a new account and returns its token pair.
func (c *Client) Register(ctx context.Context, reg *Register) (*LoginResponse, error) {
	return Decode[LoginResponse](ctx, c.c, c.endpoint("auth", "register"),
		c.public(http.MethodPost, reg))
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	return Decode[LoginResponse](ctx, c.c, c.endpoint("auth", "refresh"),
		c.public(http.MethodPost, &RefreshRequest{RefreshToken: refreshToken}))
}

// CurrentUser returns the profile of the logged in user.
func (c *Client) CurrentUser(ctx context.Context) (*types.User, error) {
	return Decode[types.User](ctx, c.c, c.endpoint("users", "me"), c.authed(ctx, http.MethodGet, nil))
}

// UpdateUser updates the profile of the logged in user.
func (c *Client) UpdateUser(ctx context.Context, profile *UserProfile) (*types.User, error) {
	return Decode[types.User](ctx, c.c, c.endpoint("users", "me"), c.authed(ctx, http.MethodPut, profile))
}

// ListTrips returns the trips of the logged in user.
func (c *Client) ListTrips(ctx context.Context) ([]types.TripSummary, error) {
	w, err := Decode[TripsWrapper](ctx, c.c, c.endpoint("trips"), c.authed(ctx, http.MethodGet, nil))
	if err != nil {
		return nil, err
	}
	return w.Trips, nil
}

// CreateTrip stores a new trip and returns it with the ids the backend
// assigned.
func (c *Client) CreateTrip(ctx context.Context, trip *types.Trip) (*types.Trip, error) {
	return Decode[types.Trip](ctx, c.c, c.endpoint("trips"), c.authed(ctx, http.MethodPost, trip))
}

// GetTrip returns a stored trip.
func (c *Client) GetTrip(ctx context.Context, id types.ID) (*types.Trip, error) {
	v, ok := id.Value()
	if !ok {
		return nil, ErrMissingID
	}
	return Decode[types.Trip](ctx, c.c, c.endpoint("trips", v), c.authed(ctx, http.MethodGet, nil))
}

// UpdateTrip replaces a stored trip and returns the saved version.
func (c *Client) UpdateTrip(ctx context.Context, trip *types.Trip) (*types.Trip, error) {
	v, ok := trip.ID.Value()
	if !ok {
		return nil, ErrMissingID
	}
	return Decode[types.Trip](ctx, c.c, c.endpoint("trips", v), c.authed(ctx, http.MethodPut, trip))
}

// SaveTrip creates the trip if it is pending, or updates it otherwise.
func (c *Client) SaveTrip(ctx context.Context, trip *types.Trip) (*types.Trip, error) {
	switch trip.ID.Kind() {
	case types.Persisted:
		return c.UpdateTrip(ctx, trip)
	default:
		return c.CreateTrip(ctx, trip)
	}
}

// DeleteTrip deletes a stored trip.
func (c *Client) DeleteTrip(ctx context.Context, id types.ID) error {
	v, ok := id.Value()
	if !ok {
		return ErrMissingID
	}
	_, err := Request(ctx, c.c, c.endpoint("trips", v), c.authed(ctx, http.MethodDelete, nil))
	return err
}

// MapSuggestions asks for places near the given scope. The answers are sent
// along with lat, lon and radius, which take precedence over answers with
// the same keys.
func (c *Client) MapSuggestions(ctx context.Context, answers Answers, params types.SuggestionParams,
) ([]Suggestion, error) {
	body := make(map[string]any, len(answers)+3)
	for k, v := range answers {
		body[k] = v
	}
	body["lat"] = params.Lat
	body["lon"] = params.Lon
	body["radius"] = params.Radius
	w, err := Decode[SuggestionsWrapper](ctx, c.c, c.endpoint("suggestions", "map"),
		c.authed(ctx, http.MethodPost, body))
	if err != nil {
		return nil, err
	}
	return w.Suggestions, nil
}

// TripTips returns the travel tips the backend generated for a trip.
func (c *Client) TripTips(ctx context.Context, id types.ID) ([]string, error) {
	v, ok := id.Value()
	if !ok {
		return nil, ErrMissingID
	}
	w, err := Decode[TipsWrapper](ctx, c.c, c.endpoint("trips", v, "tips"), c.authed(ctx, http.MethodGet, nil))
	if err != nil {
		return nil, err
	}
	return w.Tips, nil
}

// DestinationSuggestions proposes destinations from the preference form.
// It does not require a session.
func (c *Client) DestinationSuggestions(ctx context.Context, answers Answers) ([]Destination, error) {
	if answers == nil {
		answers = Answers{}
	}
	w, err := Decode[DestinationsWrapper](ctx, c.c, c.endpoint("suggestions", "destinations"),
		c.public(http.MethodPost, answers))
	if err != nil {
		return nil, err
	}
	return w.Destinations, nil
}
