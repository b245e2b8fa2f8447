package scene

import (
	"gonum.org/v1/gonum/stat"
)

// Cell is one region of the analysis grid. X is the column and Y the row,
// both zero-based. R, G and B are the area-averaged colour of the region.
// Brightness and Motion are in [0, 1].
type Cell struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	R          uint8   `json:"r"`
	G          uint8   `json:"g"`
	B          uint8   `json:"b"`
	Brightness float64 `json:"brightness"`
	Motion     float64 `json:"motion"`
}

// Grid is a row-major set of cells. Cells[y*Cols+x] is the cell at column x,
// row y.
type Grid struct {
	Rows  int    `json:"rows"`
	Cols  int    `json:"cols"`
	Cells []Cell `json:"cells"`
}

// Cell returns the cell at column x, row y.
func (g Grid) Cell(x, y int) Cell {
	return g.Cells[y*g.Cols+x]
}

// Column returns the cells of column x ordered from top row to bottom row.
func (g Grid) Column(x int) []Cell {
	out := make([]Cell, g.Rows)
	for y := 0; y < g.Rows; y++ {
		out[y] = g.Cells[y*g.Cols+x]
	}
	return out
}

// Row returns the cells of row y ordered left to right.
func (g Grid) Row(y int) []Cell {
	out := make([]Cell, g.Cols)
	copy(out, g.Cells[y*g.Cols:(y+1)*g.Cols])
	return out
}

// MeanMotion is the mean motion over all cells.
func (g Grid) MeanMotion() float64 {
	return meanOf(g.Cells, func(c Cell) float64 { return c.Motion })
}

// MeanBrightness is the mean brightness over all cells.
func (g Grid) MeanBrightness() float64 {
	return meanOf(g.Cells, func(c Cell) float64 { return c.Brightness })
}

// RowMeans returns the per-row mean motion and brightness.
func (g Grid) RowMeans() (motion, brightness []float64) {
	motion = make([]float64, g.Rows)
	brightness = make([]float64, g.Rows)
	for y := 0; y < g.Rows; y++ {
		row := g.Cells[y*g.Cols : (y+1)*g.Cols]
		motion[y] = meanOf(row, func(c Cell) float64 { return c.Motion })
		brightness[y] = meanOf(row, func(c Cell) float64 { return c.Brightness })
	}
	return motion, brightness
}

func meanOf(cells []Cell, f func(Cell) float64) float64 {
	if len(cells) == 0 {
		return 0
	}
	xs := make([]float64, len(cells))
	for i, c := range cells {
		xs[i] = f(c)
	}
	return stat.Mean(xs, nil)
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	cells := make([]Cell, len(g.Cells))
	copy(cells, g.Cells)
	return Grid{Rows: g.Rows, Cols: g.Cols, Cells: cells}
}
