// Package projection converts WGS84 geodetic coordinates to and from the
// projected planes used by radar composites.
package projection

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var (
	// ErrUnsupported reports a definition this package cannot build.
	ErrUnsupported = errors.New("unsupported projection definition")

	// ErrOutOfDomain reports a point the projection cannot map to a finite result.
	ErrOutOfDomain = errors.New("point outside projection domain")
)

// RadarComposite is the Lambert Conformal Conic plane of the national radar composite.
const RadarComposite = "+proj=lcc +lat_1=30 +lat_2=60 +lat_0=38 +lon_0=126 +x_0=0 +y_0=0 +ellps=WGS84 +units=m +no_defs"

// Projection converts between WGS84 lon/lat degrees and projected metres.
// Points are orb.Point values: {lon, lat} on the geodetic side, {x, y} on the projected side.
type Projection interface {
	FromWGS84(p orb.Point) (orb.Point, error)
	ToWGS84(p orb.Point) (orb.Point, error)
}

// Definition is a parsed PROJ-style "+key=value" string.
type Definition map[string]string

// ParseDefinition splits a PROJ string into its parameters. Flags without a
// value (e.g. +no_defs) map to the empty string.
func ParseDefinition(s string) (Definition, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty definition", ErrUnsupported)
	}
	def := make(Definition, len(fields))
	for _, f := range fields {
		if !strings.HasPrefix(f, "+") || len(f) == 1 {
			return nil, fmt.Errorf("%w: malformed token %q", ErrUnsupported, f)
		}
		key, value, _ := strings.Cut(f[1:], "=")
		if key == "" {
			return nil, fmt.Errorf("%w: malformed token %q", ErrUnsupported, f)
		}
		def[key] = value
	}
	return def, nil
}

// Float returns a numeric parameter, or fallback when it is absent.
func (d Definition) Float(key string, fallback float64) (float64, error) {
	v, ok := d[key]
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: +%s=%q is not a number", ErrUnsupported, key, v)
	}
	return f, nil
}

// String renders the definition with keys in a stable order.
func (d Definition) String() string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('+')
		b.WriteString(k)
		if v := d[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// New builds the projection named by a PROJ string. Only +proj=lcc is supported.
func New(definition string) (Projection, error) {
	def, err := ParseDefinition(definition)
	if err != nil {
		return nil, err
	}
	switch def["proj"] {
	case "lcc":
		return newLambertConformal(def)
	case "":
		return nil, fmt.Errorf("%w: missing +proj", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: +proj=%s", ErrUnsupported, def["proj"])
	}
}

// ellipsoid holds semi-major axis (metres) and inverse flattening.
type ellipsoid struct {
	a  float64
	rf float64
}

var ellipsoids = map[string]ellipsoid{
	"WGS84": {a: 6378137.0, rf: 298.257223563},
	"GRS80": {a: 6378137.0, rf: 298.257222101},
}

func ellipsoidFor(def Definition) (ellipsoid, error) {
	name := def["ellps"]
	if name == "" {
		name = def["datum"]
	}
	if name == "" {
		name = "WGS84"
	}
	e, ok := ellipsoids[name]
	if !ok {
		return ellipsoid{}, fmt.Errorf("%w: ellipsoid %q", ErrUnsupported, name)
	}
	return e, nil
}
