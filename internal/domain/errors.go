package domain

import "errors"

var (
	// ErrConfiguration reports grid specs that cannot produce the target raster:
	// non-integer decimation, invalid sizes, or a window smaller than the target.
	ErrConfiguration = errors.New("configuration error")

	// ErrShapeMismatch reports an input frame whose shape differs from the source grid.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrProjection reports a failed geodetic projection: an unsupported or
	// malformed definition, or a point outside the projection's domain.
	ErrProjection = errors.New("geodetic projection error")
)
