// Package geo turns a set of trip markers into the center and radius used to
// scope "find nearby" suggestion queries.
package geo

import (
	"math"

	"github.com/tripwise/tripwise-client/types"
)

const (
	// EarthRadiusMeters is the sphere radius used by Haversine.
	EarthRadiusMeters = 6371000
	// DefaultRadiusMeters is returned when there is no spread to measure.
	DefaultRadiusMeters = 2000
	// MinRadiusMeters and MaxRadiusMeters bound the radius sent to the backend.
	MinRadiusMeters = 2000
	MaxRadiusMeters = 50000

	radiusPadFactor = 1.3
	radiusPadMeters = 500
)

// CombineMarkers concatenates the given marker lists preserving their
// relative order. Nil lists are treated as empty. No deduplication is done.
func CombineMarkers(lists ...[]types.Marker) []types.Marker {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]types.Marker, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// CenterOf returns the arithmetic mean of the marker latitudes and
// longitudes. It returns false for an empty list.
//
// This is a flat average, not a spherical centroid. It is accurate enough for
// the markers of a single trip but drifts near the poles and breaks across
// the antimeridian.
func CenterOf(markers []types.Marker) (types.GeoCenter, bool) {
	if len(markers) == 0 {
		return types.GeoCenter{}, false
	}
	var lat, lon float64
	for _, m := range markers {
		lat += m.Lat
		lon += m.Lon
	}
	n := float64(len(markers))
	return types.GeoCenter{Lat: lat / n, Lon: lon / n}, true
}

// RadiusFrom returns a search radius in meters that encloses every marker
// around center: the largest haversine distance padded by 30% plus 500m.
// With no markers, no center, or a single marker it returns
// DefaultRadiusMeters.
func RadiusFrom(markers []types.Marker, center *types.GeoCenter) int {
	if len(markers) == 0 || center == nil {
		return DefaultRadiusMeters
	}
	if len(markers) == 1 {
		return DefaultRadiusMeters
	}
	maxDistance := 0.0
	for _, m := range markers {
		if d := Haversine(m.Lat, m.Lon, center.Lat, center.Lon); d > maxDistance {
			maxDistance = d
		}
	}
	return int(math.Round(maxDistance*radiusPadFactor + radiusPadMeters))
}

// Haversine returns the great-circle distance in meters between two points
// given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func toRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}

// ClampRadius bounds a radius to [MinRadiusMeters, MaxRadiusMeters].
func ClampRadius(radius int) int {
	switch {
	case radius > MaxRadiusMeters:
		return MaxRadiusMeters
	case radius < MinRadiusMeters:
		return MinRadiusMeters
	default:
		return radius
	}
}

// Scope computes the suggestion query parameters for a set of markers: their
// center and the clamped radius around it. It returns false when there are
// no markers to center on.
func Scope(markers []types.Marker) (types.SuggestionParams, bool) {
	center, ok := CenterOf(markers)
	if !ok {
		return types.SuggestionParams{}, false
	}
	return types.SuggestionParams{
		Lat:    center.Lat,
		Lon:    center.Lon,
		Radius: ClampRadius(RadiusFrom(markers, &center)),
	}, true
}
