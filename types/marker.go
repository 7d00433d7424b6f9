package types

// Category is one of the fixed groups a trip organizes its places into.
type Category string

// Trip categories
const (
	CategoryStays      Category = "stays"
	CategoryFood       Category = "food"
	CategorySights     Category = "sights"
	CategoryEssentials Category = "essentials"
	CategoryTransport  Category = "transport"
)

// GetAllCategories returns the trip categories in display order.
func GetAllCategories() []Category {
	return []Category{
		CategoryStays,
		CategoryFood,
		CategorySights,
		CategoryEssentials,
		CategoryTransport,
	}
}

// IsValidCategory checks if a string names a trip category.
func IsValidCategory(category string) bool {
	for _, c := range GetAllCategories() {
		if string(c) == category {
			return true
		}
	}
	return false
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Marker is a geocoded point of interest belonging to one trip category.
type Marker struct {
	ID       ID      `json:"id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name,omitempty"`
	Address  string  `json:"address,omitempty"`
	Comments string  `json:"comments,omitempty"`
	URL      string  `json:"url,omitempty"`
	Days     []int   `json:"days,omitempty"`
	Deleted  bool    `json:"deleted,omitempty"`
}

// GeoCenter is the arithmetic mean of a set of marker coordinates.
type GeoCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SuggestionParams scopes a nearby-suggestions query: a center and a search
// radius in meters.
type SuggestionParams struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius int     `json:"radius"`
}
