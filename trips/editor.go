// Package trips edits the places of a trip on the client between two saves.
// New places get a pending id; deleted places are only flagged so the
// backend drops them on the next save.
package trips

import (
	"fmt"

	"github.com/tripwise/tripwise-client/geo"
	"github.com/tripwise/tripwise-client/types"
)

var (
	ErrUnknownCategory = fmt.Errorf("unknown category")
	ErrMarkerNotFound  = fmt.Errorf("marker not found")
)

// Editor holds a trip being edited. It is not safe for concurrent use.
type Editor struct {
	trip  types.Trip
	dirty bool
}

// New returns an editor for a new, unsaved trip.
func New(name string) *Editor {
	return &Editor{
		trip:  types.Trip{ID: types.NewPendingID(), Name: name},
		dirty: true,
	}
}

// Edit returns an editor over a copy of a trip loaded from the backend.
func Edit(trip *types.Trip) *Editor {
	e := &Editor{}
	e.load(trip)
	return e
}

// Trip returns a copy of the trip, including the markers flagged as deleted.
func (e *Editor) Trip() types.Trip {
	return copyTrip(&e.trip)
}

// ID returns the trip id.
func (e *Editor) ID() types.ID {
	return e.trip.ID
}

// Dirty reports whether the trip changed since it was loaded or saved.
func (e *Editor) Dirty() bool {
	return e.dirty
}

// Rename sets the trip name.
func (e *Editor) Rename(name string) {
	if e.trip.Name != name {
		e.trip.Name = name
		e.dirty = true
	}
}

// Add appends a marker to a category with a new pending id, and returns it.
func (e *Editor) Add(c types.Category, m types.Marker) (types.Marker, error) {
	markers, ok := e.markers(c)
	if !ok {
		return types.Marker{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	m.ID = types.NewPendingID()
	m.Deleted = false
	e.trip.SetMarkers(c, append(markers, m))
	e.dirty = true
	return m, nil
}

// Update calls fn on the marker addressed by key. The marker id cannot be
// changed by fn.
func (e *Editor) Update(c types.Category, key string, fn func(m *types.Marker)) error {
	markers, ok := e.markers(c)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	for i := range markers {
		if markers[i].ID.Key() != key {
			continue
		}
		id := markers[i].ID
		fn(&markers[i])
		markers[i].ID = id
		e.dirty = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMarkerNotFound, key)
}

// Move sets the coordinates of a marker, as when it is dragged on the map.
func (e *Editor) Move(c types.Category, key string, lat, lon float64) error {
	return e.Update(c, key, func(m *types.Marker) {
		m.Lat, m.Lon = lat, lon
	})
}

// Delete flags a marker as deleted. It stays in the trip until saved.
func (e *Editor) Delete(c types.Category, key string) error {
	return e.Update(c, key, func(m *types.Marker) { m.Deleted = true })
}

// Restore clears the deleted flag of a marker.
func (e *Editor) Restore(c types.Category, key string) error {
	return e.Update(c, key, func(m *types.Marker) { m.Deleted = false })
}

// Visible returns the markers of a category that are not flagged as deleted.
func (e *Editor) Visible(c types.Category) []types.Marker {
	var out []types.Marker
	for _, m := range e.trip.Markers(c) {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

// Markers returns the visible markers of every category, in category order.
func (e *Editor) Markers() []types.Marker {
	lists := make([][]types.Marker, 0, len(types.GetAllCategories()))
	for _, c := range types.GetAllCategories() {
		lists = append(lists, e.Visible(c))
	}
	return geo.CombineMarkers(lists...)
}

// Payload returns the trip as it must be submitted to the backend. Pending
// ids encode as null and deleted markers are kept with their flag so the
// backend can drop them.
func (e *Editor) Payload() *types.Trip {
	t := copyTrip(&e.trip)
	return &t
}

// Apply replaces the edited trip with the version the backend saved.
func (e *Editor) Apply(saved *types.Trip) {
	e.load(saved)
}

func (e *Editor) load(trip *types.Trip) {
	e.trip = copyTrip(trip)
	e.dirty = false
}

func (e *Editor) markers(c types.Category) ([]types.Marker, bool) {
	if !types.IsValidCategory(string(c)) {
		return nil, false
	}
	return e.trip.Markers(c), true
}

func copyTrip(t *types.Trip) types.Trip {
	out := types.Trip{ID: t.ID, Name: t.Name}
	for _, c := range types.GetAllCategories() {
		src := t.Markers(c)
		if src == nil {
			continue
		}
		dst := make([]types.Marker, len(src))
		for i, m := range src {
			if m.Days != nil {
				m.Days = append([]int(nil), m.Days...)
			}
			dst[i] = m
		}
		out.SetMarkers(c, dst)
	}
	return out
}
