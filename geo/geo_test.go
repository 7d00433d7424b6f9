package geo

import (
	"math"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/tripwise/tripwise-client/types"
)

// Realistic locations in Barcelona (latitude, longitude)
var barcelona = []types.Marker{
	{Lat: 41.3879, Lon: 2.1699, Name: "Plaça de Catalunya"},
	{Lat: 41.4036, Lon: 2.1744, Name: "Sagrada Família"},
	{Lat: 41.3809, Lon: 2.1228, Name: "Camp Nou"},
}

// Cities across Catalonia, far enough apart to exceed the radius limit
var catalonia = []types.Marker{
	{Lat: 41.3879, Lon: 2.1699, Name: "Barcelona"},
	{Lat: 41.9794, Lon: 2.8214, Name: "Girona"},
	{Lat: 41.1188, Lon: 1.2445, Name: "Tarragona"},
}

func TestCombineMarkers(t *testing.T) {
	t.Run("Preserves Order", func(t *testing.T) {
		all := CombineMarkers(barcelona, catalonia)
		for split := 0; split <= len(all); split++ {
			a := append([]types.Marker{}, all[:split]...)
			b := append([]types.Marker{}, all[split:]...)
			qt.Assert(t, CombineMarkers(a, b), qt.DeepEquals, all)
		}
	})

	t.Run("Nil Lists Are Empty", func(t *testing.T) {
		qt.Assert(t, CombineMarkers(), qt.HasLen, 0)
		qt.Assert(t, CombineMarkers(nil, barcelona, nil), qt.DeepEquals, barcelona)
	})

	t.Run("No Dedup", func(t *testing.T) {
		qt.Assert(t, CombineMarkers(barcelona, barcelona), qt.HasLen, 2*len(barcelona))
	})
}

func TestCenterOf(t *testing.T) {
	_, ok := CenterOf(nil)
	qt.Assert(t, ok, qt.IsFalse)
	_, ok = CenterOf([]types.Marker{})
	qt.Assert(t, ok, qt.IsFalse)

	center, ok := CenterOf([]types.Marker{{Lat: 0, Lon: 0}, {Lat: 2, Lon: 2}})
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, center, qt.Equals, types.GeoCenter{Lat: 1, Lon: 1})

	center, ok = CenterOf(barcelona[:1])
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, center, qt.Equals, types.GeoCenter{Lat: 41.3879, Lon: 2.1699})
}

func TestHaversine(t *testing.T) {
	qt.Assert(t, Haversine(41.3879, 2.1699, 41.3879, 2.1699), qt.Equals, 0.0)

	// 0.05 degrees of longitude on the equator
	d := Haversine(0, 0, 0, 0.05)
	qt.Assert(t, math.Abs(d-5559.746) < 0.01, qt.IsTrue, qt.Commentf("distance %f", d))

	// symmetric
	qt.Assert(t, math.Abs(Haversine(41.3879, 2.1699, 41.9794, 2.8214)-
		Haversine(41.9794, 2.8214, 41.3879, 2.1699)) < 1e-6, qt.IsTrue)
}

func TestRadiusFrom(t *testing.T) {
	center := &types.GeoCenter{Lat: 41.3879, Lon: 2.1699}

	t.Run("Fallbacks", func(t *testing.T) {
		qt.Assert(t, RadiusFrom(nil, center), qt.Equals, DefaultRadiusMeters)
		qt.Assert(t, RadiusFrom(barcelona, nil), qt.Equals, DefaultRadiusMeters)
		qt.Assert(t, RadiusFrom(barcelona[1:2], center), qt.Equals, DefaultRadiusMeters)
		qt.Assert(t, RadiusFrom(catalonia[2:], center), qt.Equals, DefaultRadiusMeters)
	})

	t.Run("Pinned Value", func(t *testing.T) {
		markers := []types.Marker{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.1}}
		// round(5559.746 * 1.3 + 500)
		qt.Assert(t, RadiusFrom(markers, &types.GeoCenter{Lat: 0, Lon: 0.05}), qt.Equals, 7728)

		c, ok := CenterOf(markers)
		qt.Assert(t, ok, qt.IsTrue)
		qt.Assert(t, RadiusFrom(markers, &c), qt.Equals, 7728)
	})

	t.Run("Order Independent", func(t *testing.T) {
		c, _ := CenterOf(barcelona)
		want := RadiusFrom(barcelona, &c)
		qt.Assert(t, want, qt.Equals, 4344)
		reversed := []types.Marker{barcelona[2], barcelona[1], barcelona[0]}
		rotated := []types.Marker{barcelona[1], barcelona[2], barcelona[0]}
		qt.Assert(t, RadiusFrom(reversed, &c), qt.Equals, want)
		qt.Assert(t, RadiusFrom(rotated, &c), qt.Equals, want)
	})

	t.Run("Unclamped", func(t *testing.T) {
		c, _ := CenterOf(catalonia)
		qt.Assert(t, RadiusFrom(catalonia, &c), qt.Equals, 106873)
	})
}

func TestClampRadius(t *testing.T) {
	for _, tc := range []struct {
		in, want int
	}{
		{1000, 2000},
		{0, 2000},
		{1999, 2000},
		{2000, 2000},
		{30000, 30000},
		{49999, 49999},
		{50000, 50000},
		{80000, 50000},
	} {
		qt.Assert(t, ClampRadius(tc.in), qt.Equals, tc.want, qt.Commentf("radius %d", tc.in))
	}
}

func TestScope(t *testing.T) {
	_, ok := Scope(nil)
	qt.Assert(t, ok, qt.IsFalse)

	p, ok := Scope(barcelona[:1])
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, p, qt.Equals, types.SuggestionParams{Lat: 41.3879, Lon: 2.1699, Radius: 2000})

	p, ok = Scope(barcelona)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, p.Radius, qt.Equals, 4344)

	p, ok = Scope(catalonia)
	qt.Assert(t, ok, qt.IsTrue)
	qt.Assert(t, p.Radius, qt.Equals, MaxRadiusMeters)
}
