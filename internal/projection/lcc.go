package projection

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// LambertConformal is an ellipsoidal Lambert Conformal Conic projection with
// one or two standard parallels (Snyder, Map Projections: A Working Manual, ch. 15).
type LambertConformal struct {
	a, e   float64
	n, f   float64 // cone constant and scaling F
	rho0   float64
	lon0   float64 // radians
	x0, y0 float64
}

func newLambertConformal(def Definition) (*LambertConformal, error) {
	if u, ok := def["units"]; ok && u != "m" {
		return nil, fmt.Errorf("%w: +units=%s", ErrUnsupported, u)
	}
	ell, err := ellipsoidFor(def)
	if err != nil {
		return nil, err
	}
	lat1, err := def.Float("lat_1", math.NaN())
	if err != nil {
		return nil, err
	}
	if math.IsNaN(lat1) {
		return nil, fmt.Errorf("%w: lcc requires +lat_1", ErrUnsupported)
	}
	lat2, err := def.Float("lat_2", lat1)
	if err != nil {
		return nil, err
	}
	lat0, err := def.Float("lat_0", lat1)
	if err != nil {
		return nil, err
	}
	lon0, err := def.Float("lon_0", 0)
	if err != nil {
		return nil, err
	}
	x0, err := def.Float("x_0", 0)
	if err != nil {
		return nil, err
	}
	y0, err := def.Float("y_0", 0)
	if err != nil {
		return nil, err
	}
	return NewLambertConformal(ell.a, ell.rf, lat1, lat2, lat0, lon0, x0, y0)
}

// NewLambertConformal builds the projection from explicit parameters in degrees
// and metres. rf is the inverse flattening of the ellipsoid.
func NewLambertConformal(a, rf, lat1, lat2, lat0, lon0, x0, y0 float64) (*LambertConformal, error) {
	for _, lat := range []float64{lat1, lat2, lat0} {
		if math.Abs(lat) >= 90 {
			return nil, fmt.Errorf("%w: latitude parameter %g out of range", ErrUnsupported, lat)
		}
	}
	if lat1 == -lat2 {
		return nil, fmt.Errorf("%w: standard parallels %g and %g are symmetric about the equator", ErrUnsupported, lat1, lat2)
	}

	flat := 1 / rf
	e := math.Sqrt(2*flat - flat*flat)
	p := &LambertConformal{a: a, e: e, lon0: toRad(lon0), x0: x0, y0: y0}

	phi1, phi2 := toRad(lat1), toRad(lat2)
	m1, m2 := p.m(phi1), p.m(phi2)
	t1, t2 := p.t(phi1), p.t(phi2)
	if lat1 == lat2 {
		p.n = math.Sin(phi1)
	} else {
		p.n = (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	}
	p.f = m1 / (p.n * math.Pow(t1, p.n))
	p.rho0 = p.rho(toRad(lat0))
	return p, nil
}

// FromWGS84 projects {lon, lat} degrees to {x, y} metres.
func (p *LambertConformal) FromWGS84(pt orb.Point) (orb.Point, error) {
	lon, lat := pt.Lon(), pt.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lat) > 90 {
		return orb.Point{}, fmt.Errorf("%w: lat %g lon %g", ErrOutOfDomain, lat, lon)
	}
	rho := p.rho(toRad(lat))
	theta := p.n * normalizeRad(toRad(lon)-p.lon0)
	x := rho*math.Sin(theta) + p.x0
	y := p.rho0 - rho*math.Cos(theta) + p.y0
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return orb.Point{}, fmt.Errorf("%w: lat %g lon %g", ErrOutOfDomain, lat, lon)
	}
	return orb.Point{x, y}, nil
}

// ToWGS84 unprojects {x, y} metres to {lon, lat} degrees.
func (p *LambertConformal) ToWGS84(pt orb.Point) (orb.Point, error) {
	x := pt[0] - p.x0
	y := p.rho0 - (pt[1] - p.y0)
	sign := 1.0
	if p.n < 0 {
		sign = -1
	}
	rho := sign * math.Hypot(x, y)
	if rho == 0 {
		return orb.Point{toDeg(p.lon0), sign * 90}, nil
	}
	theta := math.Atan2(sign*x, sign*y)
	t := math.Pow(rho/(p.a*p.f), 1/p.n)

	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		es := p.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), p.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	lon := toDeg(normalizeRad(theta/p.n + p.lon0))
	lat := toDeg(phi)
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return orb.Point{}, fmt.Errorf("%w: x %g y %g", ErrOutOfDomain, pt[0], pt[1])
	}
	return orb.Point{lon, lat}, nil
}

func (p *LambertConformal) m(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-p.e*p.e*s*s)
}

func (p *LambertConformal) t(phi float64) float64 {
	es := p.e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-es)/(1+es), p.e/2)
}

func (p *LambertConformal) rho(phi float64) float64 {
	return p.a * p.f * math.Pow(p.t(phi), p.n)
}

func toRad(d float64) float64 { return d * math.Pi / 180 }
func toDeg(r float64) float64 { return r * 180 / math.Pi }

// normalizeRad wraps an angle into [-pi, pi].
func normalizeRad(r float64) float64 {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return r
	}
	for r > math.Pi {
		r -= 2 * math.Pi
	}
	for r < -math.Pi {
		r += 2 * math.Pi
	}
	return r
}
