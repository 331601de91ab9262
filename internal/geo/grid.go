package geo

import (
	"fmt"
	"math"
)

// epsilon absorbs floating point drift when stepping across a box whose span
// is an exact multiple of the cell size.
const epsilon = 1e-9

// Grid tiles the bounding box with cells of cellSize degrees, stepping south
// to north and, within each latitude band, west to east. The final row and
// column are clipped to the box boundary rather than overshooting it, so the
// union of the returned cells covers the box exactly. The number of cells is
// ceil(latSpan/cellSize) * ceil(lonSpan/cellSize).
//
// Grid is pure and deterministic; invalid parameters fail immediately.
func Grid(box BoundingBox, cellSize float64) ([]Cell, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	if cellSize <= 0 {
		return nil, fmt.Errorf("invalid grid: cell size must be > 0, got %v", cellSize)
	}

	latSteps := stepCount(box.North-box.South, cellSize)
	lonSteps := stepCount(box.East-box.West, cellSize)

	cells := make([]Cell, 0, latSteps*lonSteps)
	for i := 0; i < latSteps; i++ {
		south := box.South + float64(i)*cellSize
		north := math.Min(south+cellSize, box.North)
		for j := 0; j < lonSteps; j++ {
			west := box.West + float64(j)*cellSize
			east := math.Min(west+cellSize, box.East)
			cells = append(cells, Cell{North: north, South: south, East: east, West: west})
		}
	}
	return cells, nil
}

func stepCount(span, size float64) int {
	steps := int(math.Ceil(span/size - epsilon))
	if steps < 1 {
		steps = 1
	}
	return steps
}
