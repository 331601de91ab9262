// Package campground defines the validated campground entity and the
// validation of raw search API records into it.
package campground

import "time"

// RawRecord is one flattened search result: the envelope's root-level id,
// type and links merged with its attributes map. Attribute keys are the API's
// kebab-case names (region-name, camper-types, ...). RawRecords are transient
// and discarded after validation.
type RawRecord map[string]any

// ID returns the record's id, or "" when absent or not a string.
func (r RawRecord) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Links holds the API's self link for a record.
type Links struct {
	Self string `json:"self"`
}

// Campground is a validated campground record, immutable once constructed.
// Records failing validation never become a Campground; there are no partial
// entities.
type Campground struct {
	ID                     string     `json:"id"`
	Type                   string     `json:"type"`
	Links                  Links      `json:"links"`
	Name                   string     `json:"name"`
	Latitude               float64    `json:"latitude"`
	Longitude              float64    `json:"longitude"`
	RegionName             string     `json:"region_name"`
	AdministrativeArea     string     `json:"administrative_area,omitempty"`
	NearestCityName        string     `json:"nearest_city_name,omitempty"`
	AccommodationTypeNames []string   `json:"accommodation_type_names"`
	Bookable               bool       `json:"bookable"`
	CamperTypes            []string   `json:"camper_types"`
	Operator               string     `json:"operator,omitempty"`
	PhotoURL               string     `json:"photo_url,omitempty"`
	PhotoURLs              []string   `json:"photo_urls"`
	PhotosCount            int        `json:"photos_count"`
	Rating                 *float64   `json:"rating,omitempty"`
	ReviewsCount           int        `json:"reviews_count"`
	Slug                   string     `json:"slug,omitempty"`
	PriceLow               *float64   `json:"price_low,omitempty"`
	PriceHigh              *float64   `json:"price_high,omitempty"`
	AvailabilityUpdatedAt  *time.Time `json:"availability_updated_at,omitempty"`
	Address                string     `json:"address"`
}
