package thedyrt

import (
	"go.uber.org/zap"

	"github.com/outdoorsight/campground-crawler/internal/campground"
)

// listFields are attributes the entity model expects as lists. The API
// occasionally returns scalars here; those are coerced to empty lists rather
// than failing the whole page.
var listFields = []string{"photo-urls", "camper-types", "accommodation-type-names"}

// flattenSearchItem merges a search result's root-level id, type and links
// with its attributes map and pre-filters records that could never validate.
// Dropping happens silently per record; the rest of the page is unaffected.
func (c *Client) flattenSearchItem(item map[string]any) (campground.RawRecord, bool) {
	rec := flattenEnvelope(item)

	id := rec.ID()
	attrs, ok := item["attributes"].(map[string]any)
	if !ok || len(attrs) == 0 {
		c.logger.Warn("search item has no attributes", zap.String("id", idOrUnknown(id)))
		return nil, false
	}

	if name, _ := rec["name"].(string); name == "" {
		c.logger.Warn("search item missing name", zap.String("id", idOrUnknown(id)))
		return nil, false
	}
	if _, ok := rec["latitude"]; !ok {
		c.logger.Warn("search item missing coordinates", zap.String("id", idOrUnknown(id)))
		return nil, false
	}
	if _, ok := rec["longitude"]; !ok {
		c.logger.Warn("search item missing coordinates", zap.String("id", idOrUnknown(id)))
		return nil, false
	}
	if region, _ := rec["region-name"].(string); region == "" {
		c.logger.Warn("search item missing region-name", zap.String("id", idOrUnknown(id)))
		return nil, false
	}

	for _, field := range listFields {
		if v, present := rec[field]; present {
			if _, isList := v.([]any); !isList {
				rec[field] = []any{}
			}
		}
	}
	return rec, true
}

// flattenEnvelope lifts the nested attributes map up to the root, keeping
// the envelope's id, type and links.
func flattenEnvelope(item map[string]any) campground.RawRecord {
	rec := campground.RawRecord{
		"id":    stringOr(item["id"], ""),
		"type":  stringOr(item["type"], ""),
		"links": linksOrDefault(item["links"]),
	}
	if attrs, ok := item["attributes"].(map[string]any); ok {
		for k, v := range attrs {
			rec[k] = v
		}
	}
	return rec
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func linksOrDefault(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"self": ""}
}

func idOrUnknown(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}
