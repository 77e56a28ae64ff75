package domain

import (
	"fmt"
	"math"
)

// SourceGridSpec describes the native radar raster.
type SourceGridSpec struct {
	Width      int     `json:"width" koanf:"width"`
	Height     int     `json:"height" koanf:"height"`
	Resolution float64 `json:"resolution" koanf:"resolution"` // metres per pixel, isotropic
	CenterRow  int     `json:"center_row" koanf:"center_row"` // row of the projection origin
	CenterCol  int     `json:"center_col" koanf:"center_col"` // column of the projection origin
}

// TargetGridSpec describes the output raster.
type TargetGridSpec struct {
	Width      int     `json:"width" koanf:"width"`
	Height     int     `json:"height" koanf:"height"`
	Resolution float64 `json:"resolution" koanf:"resolution"`
}

// ReferenceSource is the national composite grid: 2305 x 2881 at 500 m with
// the projection origin at row 1681, column 1121.
var ReferenceSource = SourceGridSpec{
	Width:      2305,
	Height:     2881,
	Resolution: 500,
	CenterRow:  1681,
	CenterCol:  1121,
}

// ReferenceTarget is the default 2 km training raster.
var ReferenceTarget = TargetGridSpec{
	Width:      512,
	Height:     512,
	Resolution: 2000,
}

// Validate checks sizes, resolution, and that the center lies inside the grid.
func (s SourceGridSpec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: source size %dx%d must be positive", ErrConfiguration, s.Width, s.Height)
	}
	if !(s.Resolution > 0) || math.IsInf(s.Resolution, 0) {
		return fmt.Errorf("%w: source resolution %g must be positive", ErrConfiguration, s.Resolution)
	}
	if s.CenterRow < 0 || s.CenterRow >= s.Height || s.CenterCol < 0 || s.CenterCol >= s.Width {
		return fmt.Errorf("%w: source center (%d,%d) outside %dx%d grid",
			ErrConfiguration, s.CenterRow, s.CenterCol, s.Height, s.Width)
	}
	return nil
}

// Validate checks sizes and resolution.
func (t TargetGridSpec) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("%w: target size %dx%d must be positive", ErrConfiguration, t.Width, t.Height)
	}
	if !(t.Resolution > 0) || math.IsInf(t.Resolution, 0) {
		return fmt.Errorf("%w: target resolution %g must be positive", ErrConfiguration, t.Resolution)
	}
	return nil
}

// ScaleFactor returns the integer decimation factor target/source.
// A ratio that is not a whole number >= 1 is a configuration error.
func ScaleFactor(src SourceGridSpec, dst TargetGridSpec) (int, error) {
	ratio := dst.Resolution / src.Resolution
	k := math.Round(ratio)
	// Relative tolerance absorbs float noise from values like 0.1 * 3.
	if k < 1 || math.Abs(ratio-k) > 1e-9*k {
		return 0, fmt.Errorf("%w: target resolution %g is not an integer multiple of source resolution %g",
			ErrConfiguration, dst.Resolution, src.Resolution)
	}
	return int(k), nil
}

// String renders the spec for logs and cache keys.
func (s SourceGridSpec) String() string {
	return fmt.Sprintf("src[%dx%d@%gm c=(%d,%d)]", s.Width, s.Height, s.Resolution, s.CenterRow, s.CenterCol)
}

// String renders the spec for logs and cache keys.
func (t TargetGridSpec) String() string {
	return fmt.Sprintf("dst[%dx%d@%gm]", t.Width, t.Height, t.Resolution)
}
