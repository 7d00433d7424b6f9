package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/tripwise-client/api"
	"github.com/tripwise/tripwise-client/session"
	"github.com/tripwise/tripwise-client/suggest"
	"github.com/tripwise/tripwise-client/trips"
	"github.com/tripwise/tripwise-client/types"
)

// Config holds the parameters of the client service.
type Config struct {
	APIURL string
	// SessionFile is where the tokens are persisted. Empty keeps them in
	// memory only.
	SessionFile string
	Timeout     time.Duration
	LoginPath   string
	// Navigate is called when the session is dropped after a failed refresh.
	Navigate func(to string)
	// Registerer receives the client metrics. Nil disables them.
	Registerer prometheus.Registerer
	Store      session.Store
	Clock      session.TimeProvider
	Debug      bool
}

// Service bundles the session, the backend client and the suggestion
// planner of one user.
type Service struct {
	Session *session.Session
	API     *api.Client
	Planner *suggest.Planner
}

// New creates the client service and loads the persisted session, if any.
// It also sets the global log level to InfoLevel or DebugLevel if debug is
// true. Close must be called to cancel the calls still in flight.
func New(conf *Config) (*Service, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Caller().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if conf.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store := conf.Store
	if store == nil && conf.SessionFile != "" {
		store = session.NewFileStore(conf.SessionFile)
	}
	sess, err := session.New(store, nil, conf.Clock)
	if err != nil {
		return nil, fmt.Errorf("could not load session: %w", err)
	}
	client, err := api.NewClient(&api.ClientConfig{
		BaseURL:   conf.APIURL,
		Timeout:   conf.Timeout,
		Navigate:  conf.Navigate,
		LoginPath: conf.LoginPath,
	}, sess)
	if err != nil {
		return nil, err
	}
	sess.SetRefresher(client)

	if conf.Registerer != nil {
		if err := api.EnablePrometheusMetrics(conf.Registerer); err != nil {
			return nil, fmt.Errorf("could not register metrics: %w", err)
		}
	}
	log.Debug().Str("api", conf.APIURL).Bool("loggedIn", sess.LoggedIn()).Msg("client service created")
	return &Service{
		Session: sess,
		API:     client,
		Planner: suggest.NewPlanner(client),
	}, nil
}

// Login authenticates the user and stores the session.
func (s *Service) Login(ctx context.Context, email, password string) error {
	lr, err := s.API.Login(ctx, email, password)
	if err != nil {
		return err
	}
	return s.Session.SetLogin(lr)
}

// Register creates an account and stores its session.
func (s *Service) Register(ctx context.Context, reg *api.Register) error {
	lr, err := s.API.Register(ctx, reg)
	if err != nil {
		return err
	}
	return s.Session.SetLogin(lr)
}

// Logout drops the session.
func (s *Service) Logout() {
	s.Session.Logout()
}

// Open loads a stored trip into an editor.
func (s *Service) Open(ctx context.Context, id types.ID) (*trips.Editor, error) {
	trip, err := s.API.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	return trips.Edit(trip), nil
}

// Save submits the edited trip and applies the saved version, which carries
// the ids the backend assigned.
func (s *Service) Save(ctx context.Context, e *trips.Editor) error {
	saved, err := s.API.SaveTrip(ctx, e.Payload())
	if err != nil {
		return err
	}
	e.Apply(saved)
	return nil
}

// Close cancels the suggestion calls still in flight.
func (s *Service) Close() {
	s.Planner.Close()
}
