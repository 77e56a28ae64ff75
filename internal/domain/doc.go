// Package domain models radar reflectivity frames and the regridding transform
// that maps them onto a fixed training/forecast raster.
//
// # Data Source
//
// Frames originate from a national radar composite published on a Lambert
// Conformal Conic (LCC) grid at 500 m spacing. The reference composite is
// 2305 columns by 2881 rows with the projection origin at row 1681, column 1121.
// Each frame is a row-major array of int16 reflectivity values scaled by 100
// (dBZ * 100). The upstream fetcher decompresses frames before they reach this
// package.
//
// # Grid Conventions
//
// Pixel (row, col) maps to ground (x, y) metres in the LCC plane as
//
//	x = (col - center.col) * resolution
//	y = (row - center.row) * resolution
//
// Row index grows northward, so a frame is stored south-up. The optional final
// flip converts to the north-up convention most image tooling expects.
//
// Projection: +proj=lcc +lat_1=30 +lat_2=60 +lat_0=38 +lon_0=126 on WGS84.
//
// # Sentinel Values
//
//	-30000  no data / below sensor floor. Used to fill synthetic padding.
//	-25000  out of radar coverage (treated like any negative value).
//
// Every negative value, sentinel or not, becomes exactly 0 after normalization.
//
// # Region Transform
//
// The output footprint is anchored at two geodetic corners, SW (29.0N, 120.5E)
// and NE (42.0N, 137.5E). Their source-grid indices are computed once when a
// [RegionTransform] is built. For the reference composite they are (45, -253)
// and (2959, 2675) as (col, row). A negative row means the corner lies outside
// the native grid and the window is padded with sentinel rows.
//
// Applying the transform:
//
//  1. Cut the anchor window, sentinel-filling cells outside the source grid.
//  2. Pad to a square working size (rows on the bottom, columns on the left).
//  3. Decimate by target.resolution / source.resolution (strided, no averaging).
//  4. Center-crop to the target size.
//  5. Clip below at 0 and divide by 10000.
//  6. Optionally flip rows.
//
// Decimation picks every k-th sample. It is fast but aliases fine-scale echoes;
// callers that need an area average must pre-filter.
package domain
