package models

import "time"

// Location is a saved US ZIP code.
type Location struct {
	ZipCode string    `json:"zipCode"`
	Name    string    `json:"name,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}
