package api

import (
	"github.com/tripwise/tripwise-client/types"
)

type Register struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type Login struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by the login, register and refresh endpoints.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UserProfile holds the user fields that can be updated.
type UserProfile struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

type TripsWrapper struct {
	Trips []types.TripSummary `json:"trips"`
}

// Answers are the preference form answers, sent verbatim to the suggestion
// endpoints.
type Answers map[string]any

// Suggestion is a place proposed by the backend near a trip.
type Suggestion struct {
	Name     string         `json:"name"`
	Category types.Category `json:"category,omitempty"`
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	Address  string         `json:"address,omitempty"`
	URL      string         `json:"url,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type SuggestionsWrapper struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// Destination is a trip destination proposed from the preference form.
type Destination struct {
	Name        string  `json:"name"`
	Country     string  `json:"country,omitempty"`
	Description string  `json:"description,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
}

type DestinationsWrapper struct {
	Destinations []Destination `json:"destinations"`
}

type TipsWrapper struct {
	Tips []string `json:"tips"`
}
