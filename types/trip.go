package types

// Trip is a named collection of places, organized by category.
type Trip struct {
	ID         ID       `json:"id"`
	Name       string   `json:"name"`
	Stays      []Marker `json:"stays"`
	Food       []Marker `json:"food"`
	Sights     []Marker `json:"sights"`
	Essentials []Marker `json:"essentials"`
	Transport  []Marker `json:"transport"`
}

// Markers returns the markers of the given category, or nil for an unknown one.
func (t *Trip) Markers(c Category) []Marker {
	if p := t.slot(c); p != nil {
		return *p
	}
	return nil
}

// SetMarkers replaces the markers of the given category. Unknown categories
// are ignored and false is returned.
func (t *Trip) SetMarkers(c Category, markers []Marker) bool {
	p := t.slot(c)
	if p == nil {
		return false
	}
	*p = markers
	return true
}

func (t *Trip) slot(c Category) *[]Marker {
	switch c {
	case CategoryStays:
		return &t.Stays
	case CategoryFood:
		return &t.Food
	case CategorySights:
		return &t.Sights
	case CategoryEssentials:
		return &t.Essentials
	case CategoryTransport:
		return &t.Transport
	}
	return nil
}

// TripSummary is the list view of a trip.
type TripSummary struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// User is the profile of the logged in user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
