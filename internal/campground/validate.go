package campground

import (
	"fmt"
	"strconv"
	"time"
)

// ValidationError reports why a raw record was rejected. Rejection is a
// normal outcome at scale; callers log it and drop the record.
type ValidationError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("record %s: field %q %s", id, e.Field, e.Reason)
}

// Validate converts a flattened raw record into a Campground, enforcing
// required fields and coercing optional ones. It is pure and never panics on
// dirty upstream data.
func Validate(raw RawRecord) (Campground, error) {
	id := raw.ID()
	if id == "" {
		return Campground{}, &ValidationError{Field: "id", Reason: "is required"}
	}

	name := asString(raw["name"])
	if name == "" {
		return Campground{}, &ValidationError{RecordID: id, Field: "name", Reason: "is required"}
	}

	lat, ok := asFloat(raw["latitude"])
	if !ok {
		return Campground{}, &ValidationError{RecordID: id, Field: "latitude", Reason: "must be numeric"}
	}
	lon, ok := asFloat(raw["longitude"])
	if !ok {
		return Campground{}, &ValidationError{RecordID: id, Field: "longitude", Reason: "must be numeric"}
	}

	region := asString(raw["region-name"])
	if region == "" {
		return Campground{}, &ValidationError{RecordID: id, Field: "region-name", Reason: "is required"}
	}

	c := Campground{
		ID:                     id,
		Type:                   asString(raw["type"]),
		Links:                  asLinks(raw["links"]),
		Name:                   name,
		Latitude:               lat,
		Longitude:              lon,
		RegionName:             region,
		AdministrativeArea:     asString(raw["administrative-area"]),
		NearestCityName:        asString(raw["nearest-city-name"]),
		AccommodationTypeNames: asStringList(raw["accommodation-type-names"]),
		Bookable:               asBool(raw["bookable"]),
		CamperTypes:            asStringList(raw["camper-types"]),
		Operator:               asString(raw["operator"]),
		PhotoURL:               asString(raw["photo-url"]),
		PhotoURLs:              asStringList(raw["photo-urls"]),
		PhotosCount:            asInt(raw["photos-count"]),
		Rating:                 asFloatPtr(raw["rating"]),
		ReviewsCount:           asInt(raw["reviews-count"]),
		Slug:                   asString(raw["slug"]),
		PriceLow:               asFloatPtr(raw["price-low"]),
		PriceHigh:              asFloatPtr(raw["price-high"]),
		AvailabilityUpdatedAt:  asTimePtr(raw["availability-updated-at"]),
		Address:                asString(raw["address"]),
	}
	return c, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts the shapes the upstream JSON actually produces: numbers
// decode as float64, but coordinates occasionally arrive as numeric strings.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asFloatPtr(v any) *float64 {
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func asInt(v any) int {
	f, ok := asFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asStringList coerces non-list values to an empty list rather than failing
// the record.
func asStringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asLinks(v any) Links {
	m, ok := v.(map[string]any)
	if !ok {
		return Links{}
	}
	return Links{Self: asString(m["self"])}
}

func asTimePtr(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
