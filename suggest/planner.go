// Package suggest asks the backend for places near a trip and for trip tips,
// keeping at most one call of each kind in flight.
package suggest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tripwise/tripwise-client/api"
	"github.com/tripwise/tripwise-client/geo"
	"github.com/tripwise/tripwise-client/types"
)

var (
	ErrNoMarkers    = fmt.Errorf("trip has no places to search around")
	ErrTripNotSaved = fmt.Errorf("trip has not been saved")
)

// Backend is the part of the api client the planner uses.
type Backend interface {
	MapSuggestions(ctx context.Context, answers api.Answers, params types.SuggestionParams) ([]api.Suggestion, error)
	TripTips(ctx context.Context, id types.ID) ([]string, error)
}

// Planner runs suggestion queries for one owner, such as a trip view.
type Planner struct {
	backend  Backend
	inflight *Inflight
}

// NewPlanner returns a planner over the given backend.
func NewPlanner(backend Backend) *Planner {
	return &Planner{backend: backend, inflight: NewInflight()}
}

// Nearby returns suggested places around the visible markers of the trip.
// A previous Nearby call still in flight is cancelled and returns an
// aborted error. An empty result returns api.ErrNoResults.
func (p *Planner) Nearby(ctx context.Context, markers []types.Marker, answers api.Answers,
) ([]api.Suggestion, types.SuggestionParams, error) {
	params, ok := geo.Scope(markers)
	if !ok {
		return nil, params, ErrNoMarkers
	}
	ctx, done := p.inflight.Begin(ctx, KindSuggestions)
	defer done()

	log.Debug().
		Float64("lat", params.Lat).
		Float64("lon", params.Lon).
		Int("radius", params.Radius).
		Msg("requesting nearby suggestions")
	suggestions, err := p.backend.MapSuggestions(ctx, answers, params)
	if err != nil {
		return nil, params, err
	}
	if len(suggestions) == 0 {
		return nil, params, api.ErrNoResults
	}
	return suggestions, params, nil
}

// Tips returns the travel tips of a saved trip. A previous Tips call still
// in flight is cancelled.
func (p *Planner) Tips(ctx context.Context, id types.ID) ([]string, error) {
	if id.IsPending() {
		return nil, ErrTripNotSaved
	}
	ctx, done := p.inflight.Begin(ctx, KindTips)
	defer done()
	return p.backend.TripTips(ctx, id)
}

// Close cancels every call in flight. The planner cannot be used afterwards.
func (p *Planner) Close() {
	p.inflight.Close()
}
