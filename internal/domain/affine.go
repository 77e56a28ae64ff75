package domain

import (
	"errors"
	"fmt"
	"math"
)

var errSingularAffine = errors.New("affine transform is not invertible")

// Affine is a 2D affine transform in the rasterio coefficient order:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
//
// It is a value type; every method returns a new transform.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// Translation returns a transform that shifts by (tx, ty).
func Translation(tx, ty float64) Affine {
	return Affine{A: 1, C: tx, E: 1, F: ty}
}

// Scaling returns a transform that scales x by sx and y by sy.
func Scaling(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

// Compose returns a∘b: the result applies b first, then a.
func (a Affine) Compose(b Affine) Affine {
	return Affine{
		A: a.A*b.A + a.B*b.D,
		B: a.A*b.B + a.B*b.E,
		C: a.A*b.C + a.B*b.F + a.C,
		D: a.D*b.A + a.E*b.D,
		E: a.D*b.B + a.E*b.E,
		F: a.D*b.C + a.E*b.F + a.F,
	}
}

// Apply maps (x, y) through the transform.
func (a Affine) Apply(x, y float64) (float64, float64) {
	return x*a.A + y*a.B + a.C, x*a.D + y*a.E + a.F
}

// Determinant of the linear part.
func (a Affine) Determinant() float64 {
	return a.A*a.E - a.B*a.D
}

// Invert returns the inverse transform.
func (a Affine) Invert() (Affine, error) {
	det := a.Determinant()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, errSingularAffine
	}
	inv := 1 / det

	A := a.E * inv
	B := -a.B * inv
	D := -a.D * inv
	E := a.A * inv

	return Affine{
		A: A,
		B: B,
		C: -a.C*A - a.F*B,
		D: D,
		E: E,
		F: -a.C*D - a.F*E,
	}, nil
}

func (a Affine) String() string {
	return fmt.Sprintf("Affine(%v, %v, %v, %v, %v, %v)", a.A, a.B, a.C, a.D, a.E, a.F)
}

// PixelToGround returns the transform taking (col, row) pixel indices of the
// source grid to LCC ground (x, y) metres: translate by the negated center,
// then scale by the resolution. The column pairs with x and the row with y.
func PixelToGround(src SourceGridSpec) Affine {
	return Scaling(src.Resolution, src.Resolution).
		Compose(Translation(-float64(src.CenterCol), -float64(src.CenterRow)))
}
