// Package geo provides the bounding box and grid cell primitives used to
// partition a crawl region.
package geo

import "fmt"

// BoundingBox is a lat/lon rectangle in degrees. North must exceed South and
// East must exceed West (west of the prime meridian is more negative, so the
// continental US runs roughly West=-125 to East=-66).
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate rejects boxes with inverted or zero-span edges.
func (b BoundingBox) Validate() error {
	if b.North <= b.South {
		return fmt.Errorf("invalid bounding box: north (%v) must be greater than south (%v)", b.North, b.South)
	}
	if b.East <= b.West {
		return fmt.Errorf("invalid bounding box: east (%v) must be greater than west (%v)", b.East, b.West)
	}
	return nil
}

// Cell is one rectangular sub-region of a crawl bounding box. Cells are
// generated once per run and never mutated.
type Cell struct {
	North float64
	South float64
	East  float64
	West  float64
}

func (c Cell) String() string {
	return fmt.Sprintf("N:%.2f S:%.2f E:%.2f W:%.2f", c.North, c.South, c.East, c.West)
}
