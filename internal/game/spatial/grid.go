// Package spatial provides the uniform grid used for broad-phase unit queries.
//
// The grid stores unit ids (not pointers) in preallocated per-cell slices and is
// cleared and refilled every tick, so it never holds stale entries.
package spatial

import (
	"math"
)

// SpatialGrid partitions world space into square cells of fixed size.
// A point (x, y) lives in cell (floor(x/cellSize), floor(y/cellSize)),
// clamped to the grid bounds. Cells are stored row-major.
type SpatialGrid struct {
	cellSize    float64
	invCellSize float64
	cols, rows  int
	cells       [][]uint32
	scratch     []uint32 // reused by QueryRadius
	count       int
}

// NewSpatialGrid creates a grid covering worldWidth × worldHeight.
// maxEntities is only a capacity hint for the per-cell slices.
func NewSpatialGrid(worldWidth, worldHeight, cellSize float64, maxEntities int) *SpatialGrid {
	cols := int(math.Ceil(worldWidth / cellSize))
	rows := int(math.Ceil(worldHeight / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]uint32, cols*rows)
	perCell := maxEntities / len(cells)
	if perCell < 4 {
		perCell = 4
	}
	for i := range cells {
		cells[i] = make([]uint32, 0, perCell)
	}

	return &SpatialGrid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]uint32, 0, 64),
	}
}

// Clear empties every cell, keeping capacity.
func (g *SpatialGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
	g.count = 0
}

// Insert files id under the cell containing (x, y).
func (g *SpatialGrid) Insert(id uint32, x, y float64) {
	col, row := g.cellCoord(x, y)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], id)
	g.count++
}

// cellCoord maps a world position to clamped cell coordinates.
func (g *SpatialGrid) cellCoord(x, y float64) (col, row int) {
	col = clamp(int(math.Floor(x*g.invCellSize)), 0, g.cols-1)
	row = clamp(int(math.Floor(y*g.invCellSize)), 0, g.rows-1)
	return col, row
}

// QueryRadius returns every id filed in a cell within ceil(radius/cellSize)
// cells of the cell containing (cx, cy), in row-major cell order.
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Results are a superset; callers must re-check exact distance.
func (g *SpatialGrid) QueryRadius(cx, cy, radius float64) []uint32 {
	g.scratch = g.scratch[:0]
	if radius < 0 {
		return g.scratch
	}

	col, row := g.cellCoord(cx, cy)
	reach := int(math.Ceil(radius * g.invCellSize))

	minCol := clamp(col-reach, 0, g.cols-1)
	maxCol := clamp(col+reach, 0, g.cols-1)
	minRow := clamp(row-reach, 0, g.rows-1)
	maxRow := clamp(row+reach, 0, g.rows-1)

	for r := minRow; r <= maxRow; r++ {
		base := r * g.cols
		for c := minCol; c <= maxCol; c++ {
			g.scratch = append(g.scratch, g.cells[base+c]...)
		}
	}
	return g.scratch
}

// Len returns the number of ids inserted since the last Clear.
func (g *SpatialGrid) Len() int {
	return g.count
}

// Stats returns grid occupancy statistics for debugging/profiling.
func (g *SpatialGrid) Stats() GridStats {
	var maxInCell, nonEmpty int
	for _, cell := range g.cells {
		n := len(cell)
		if n > maxInCell {
			maxInCell = n
		}
		if n > 0 {
			nonEmpty++
		}
	}

	avg := 0.0
	if nonEmpty > 0 {
		avg = float64(g.count) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:     len(g.cells),
		NonEmptyCells:  nonEmpty,
		TotalEntities:  g.count,
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avg,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int     `json:"totalCells"`
	NonEmptyCells  int     `json:"nonEmptyCells"`
	TotalEntities  int     `json:"totalEntities"`
	MaxInCell      int     `json:"maxInCell"`
	AvgPerNonEmpty float64 `json:"avgPerNonEmpty"`
}

// Dimensions returns the grid dimensions.
func (g *SpatialGrid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
