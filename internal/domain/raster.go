package domain

import "fmt"

// Number is the set of element types a frame can be built from.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Grid is a two-dimensional row-major raster of float32 samples.
type Grid struct {
	Rows int
	Cols int
	Data []float32
}

// NewGrid allocates a zeroed rows x cols grid.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// NewFilledGrid allocates a rows x cols grid with every cell set to v.
func NewFilledGrid(rows, cols int, v float32) *Grid {
	g := NewGrid(rows, cols)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// FromSlice copies a row-major slice of any numeric type into a Grid.
func FromSlice[T Number](rows, cols int, data []T) (*Grid, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("%w: %d values cannot fill %dx%d grid", ErrShapeMismatch, len(data), rows, cols)
	}
	g := NewGrid(rows, cols)
	for i, v := range data {
		g.Data[i] = float32(v)
	}
	return g, nil
}

// At returns the sample at (row, col).
func (g *Grid) At(row, col int) float32 {
	return g.Data[row*g.Cols+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float32) {
	g.Data[row*g.Cols+col] = v
}

// Row returns the backing slice for one row.
func (g *Grid) Row(row int) []float32 {
	return g.Data[row*g.Cols : (row+1)*g.Cols]
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float32, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// FlipRows returns a new grid with row order reversed.
func (g *Grid) FlipRows() *Grid {
	out := NewGrid(g.Rows, g.Cols)
	for r := 0; r < g.Rows; r++ {
		copy(out.Row(g.Rows-1-r), g.Row(r))
	}
	return out
}

// GridStats summarizes a grid's values.
type GridStats struct {
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float64 `json:"mean"`
	// Nonzero counts cells carrying echo after normalization.
	Nonzero int `json:"nonzero"`
}

// Stats computes min, max, mean, and the non-zero count.
func (g *Grid) Stats() GridStats {
	if len(g.Data) == 0 {
		return GridStats{}
	}
	s := GridStats{Min: g.Data[0], Max: g.Data[0]}
	var sum float64
	for _, v := range g.Data {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		if v != 0 {
			s.Nonzero++
		}
		sum += float64(v)
	}
	s.Mean = sum / float64(len(g.Data))
	return s
}
