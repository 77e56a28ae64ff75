package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/radar-regrid/internal/projection"
)

// NoData fills synthetic padding cells. It clips to 0 during normalization.
const NoData float32 = -30000

// NormalizationDivisor scales clipped reflectivity into model units.
const NormalizationDivisor = 10000.0

// Anchor corners of the output footprint as {lon, lat}.
var (
	SouthWestAnchor = orb.Point{120.5, 29.0}
	NorthEastAnchor = orb.Point{137.5, 42.0}
)

// PixelIndex is a (col, row) position in the source grid. Either component may
// fall outside the grid when an anchor lies beyond the sensor footprint.
type PixelIndex struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

// RegionOptions tune a RegionTransform beyond the two grid specs.
type RegionOptions struct {
	// Projection is the PROJ definition of the source plane. Empty means the radar composite.
	Projection string `json:"projection" koanf:"projection"`
	// Anchors overrides the SW/NE corners. Zero value means the default anchors.
	Anchors orb.Bound `json:"-" koanf:"-"`
	// WorkingSize pins the side of the square working raster. Zero derives it
	// from the anchor window as max(height, width).
	WorkingSize int `json:"working_size" koanf:"working_size"`
	// FlipRows reverses row order of the output (south-up to north-up).
	FlipRows bool `json:"flip_rows" koanf:"flip_rows"`
}

// RegionTransform maps source frames onto the target raster. All fields are
// fixed at construction and the value is safe for concurrent use.
type RegionTransform struct {
	source      SourceGridSpec
	target      TargetGridSpec
	scaleRes    int
	sw, ne      PixelIndex
	topPad      int
	colsTaken   int
	winRows     int
	winCols     int
	workingSize int
	flip        bool
	cropRow     int
	cropCol     int
}

// NewRegionTransform computes the anchor indices and validates that the
// pipeline can produce a target-sized raster. Projection failures wrap
// ErrProjection; geometry problems wrap ErrConfiguration.
func NewRegionTransform(src SourceGridSpec, dst TargetGridSpec, opts RegionOptions) (*RegionTransform, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	scale, err := ScaleFactor(src, dst)
	if err != nil {
		return nil, err
	}

	def := opts.Projection
	if def == "" {
		def = projection.RadarComposite
	}
	proj, err := projection.New(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProjection, err)
	}

	anchors := opts.Anchors
	if anchors.IsZero() {
		anchors = orb.Bound{Min: SouthWestAnchor, Max: NorthEastAnchor}
	}

	toIndex, err := pointToIndex(src, proj)
	if err != nil {
		return nil, err
	}
	sw, err := toIndex(anchors.Min)
	if err != nil {
		return nil, err
	}
	ne, err := toIndex(anchors.Max)
	if err != nil {
		return nil, err
	}
	if ne.Col < sw.Col || ne.Row < sw.Row {
		return nil, fmt.Errorf("%w: anchor window %v..%v is empty", ErrConfiguration, sw, ne)
	}
	if sw.Col < 0 || sw.Col >= src.Width {
		return nil, fmt.Errorf("%w: south-west column %d outside source width %d", ErrConfiguration, sw.Col, src.Width)
	}
	if ne.Row < 0 {
		return nil, fmt.Errorf("%w: north-east row %d above source grid", ErrConfiguration, ne.Row)
	}

	// Rows [0, y2] and columns [x1, end] of the source, padded top by |y1|
	// when y1 is negative and right by |x2-(W-1)|.
	topPad := max(-sw.Row, 0)
	rowsTaken := min(ne.Row, src.Height-1) + 1
	colsTaken := src.Width - sw.Col
	rightPad := ne.Col - (src.Width - 1)
	if rightPad < 0 {
		rightPad = -rightPad
	}
	winRows := topPad + rowsTaken
	winCols := colsTaken + rightPad

	size := opts.WorkingSize
	if size == 0 {
		size = max(winRows, winCols)
	}
	if size < winRows || size < winCols {
		return nil, fmt.Errorf("%w: working size %d smaller than anchor window %dx%d",
			ErrConfiguration, size, winRows, winCols)
	}

	decimated := (size + scale - 1) / scale
	if decimated < dst.Height || decimated < dst.Width {
		return nil, fmt.Errorf("%w: decimated raster %dx%d smaller than target %dx%d",
			ErrConfiguration, decimated, decimated, dst.Height, dst.Width)
	}

	return &RegionTransform{
		source:      src,
		target:      dst,
		scaleRes:    scale,
		sw:          sw,
		ne:          ne,
		topPad:      topPad,
		colsTaken:   colsTaken,
		winRows:     winRows,
		winCols:     winCols,
		workingSize: size,
		flip:        opts.FlipRows,
		cropRow:     (decimated - dst.Height) / 2,
		cropCol:     (decimated - dst.Width) / 2,
	}, nil
}

// pointToIndex returns a function projecting a geodetic point into the source
// grid and rounding to the nearest pixel (half away from zero).
func pointToIndex(src SourceGridSpec, proj projection.Projection) (func(orb.Point) (PixelIndex, error), error) {
	groundToPixel, err := PixelToGround(src).Invert()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return func(p orb.Point) (PixelIndex, error) {
		xy, err := proj.FromWGS84(p)
		if err != nil {
			return PixelIndex{}, fmt.Errorf("%w: %w", ErrProjection, err)
		}
		col, row := groundToPixel.Apply(xy[0], xy[1])
		if math.Abs(col) > math.MaxInt32 || math.Abs(row) > math.MaxInt32 {
			return PixelIndex{}, fmt.Errorf("%w: point %v maps to pixel (%g,%g)", ErrProjection, p, col, row)
		}
		return PixelIndex{Col: int(math.Round(col)), Row: int(math.Round(row))}, nil
	}, nil
}

// Source returns the source grid spec.
func (t *RegionTransform) Source() SourceGridSpec { return t.source }

// Target returns the target grid spec.
func (t *RegionTransform) Target() TargetGridSpec { return t.target }

// ScaleRes is the integer decimation factor.
func (t *RegionTransform) ScaleRes() int { return t.scaleRes }

// Anchors returns the SW and NE anchor indices as (x1,y1), (x2,y2).
func (t *RegionTransform) Anchors() (sw, ne PixelIndex) { return t.sw, t.ne }

// Window returns the height and width of the padded anchor window.
func (t *RegionTransform) Window() (rows, cols int) { return t.winRows, t.winCols }

// WorkingSize is the side of the square raster before decimation.
func (t *RegionTransform) WorkingSize() int { return t.workingSize }

// FlipsRows reports whether output rows are reversed.
func (t *RegionTransform) FlipsRows() bool { return t.flip }

// Apply runs the crop, pad, decimate, crop, normalize, flip sequence on one
// frame and returns a new target-sized grid. The input is never modified.
func (t *RegionTransform) Apply(img *Grid) (*Grid, error) {
	if img == nil || img.Rows != t.source.Height || img.Cols != t.source.Width || len(img.Data) != img.Rows*img.Cols {
		return nil, t.shapeError(img)
	}

	out := NewGrid(t.target.Height, t.target.Width)
	for r := 0; r < t.target.Height; r++ {
		wr := (t.cropRow + r) * t.scaleRes
		dstRow := r
		if t.flip {
			dstRow = t.target.Height - 1 - r
		}
		row := out.Row(dstRow)
		for c := 0; c < t.target.Width; c++ {
			wc := (t.cropCol + c) * t.scaleRes
			row[c] = normalize(t.workingSample(img, wr, wc))
		}
	}
	return out, nil
}

// ApplyBatch applies the transform to every frame of a batch. The first
// failing frame aborts the batch.
func (t *RegionTransform) ApplyBatch(frames []*Grid) ([]*Grid, error) {
	out := make([]*Grid, len(frames))
	for i, f := range frames {
		g, err := t.Apply(f)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		out[i] = g
	}
	return out, nil
}

// workingSample returns the value at (wr, wc) of the square working raster
// without materializing it. The padded window occupies rows [0, winRows) and
// columns [size-winCols, size); its first topPad rows and trailing right
// columns are padding, as are the bottom rows and left columns of the square.
func (t *RegionTransform) workingSample(img *Grid, wr, wc int) float32 {
	padLeft := t.workingSize - t.winCols
	if wr < t.topPad || wr >= t.winRows || wc < padLeft {
		return NoData
	}
	cc := wc - padLeft
	if cc >= t.colsTaken {
		return NoData
	}
	return img.At(wr-t.topPad, t.sw.Col+cc)
}

func normalize(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	return float32(float64(v) / NormalizationDivisor)
}

func (t *RegionTransform) shapeError(img *Grid) error {
	if img == nil {
		return fmt.Errorf("%w: nil frame, want %dx%d", ErrShapeMismatch, t.source.Height, t.source.Width)
	}
	return fmt.Errorf("%w: frame %dx%d (%d values), want %dx%d",
		ErrShapeMismatch, img.Rows, img.Cols, len(img.Data), t.source.Height, t.source.Width)
}
