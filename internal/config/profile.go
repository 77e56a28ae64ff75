package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/projection"
)

// ProfileSchema is the only profile schema_version understood by LoadProfile.
const ProfileSchema = "v1"

// profileEnvPrefix marks env overrides, e.g. REGRID__TARGET__WIDTH=256.
const profileEnvPrefix = "REGRID__"

// LatLon is a geodetic corner in degrees.
type LatLon struct {
	Lat float64 `json:"lat" koanf:"lat"`
	Lon float64 `json:"lon" koanf:"lon"`
}

// Anchors holds the footprint corners of a profile.
type Anchors struct {
	SouthWest LatLon `json:"south_west" koanf:"south_west"`
	NorthEast LatLon `json:"north_east" koanf:"north_east"`
}

// FrameFormat describes how source frame files are laid out on disk.
type FrameFormat struct {
	HeaderBytes int `json:"header_bytes" koanf:"header_bytes"` // bytes to skip before the int16 payload
}

// Profile is a named regridding setup: source and target grids plus
// transform options. It is loaded from YAML layered with REGRID__ env vars.
type Profile struct {
	SchemaVersion string                `json:"schema_version" koanf:"schema_version"`
	Name          string                `json:"name" koanf:"name"`
	Source        domain.SourceGridSpec `json:"source" koanf:"source"`
	Target        domain.TargetGridSpec `json:"target" koanf:"target"`
	Projection    string                `json:"projection" koanf:"projection"`
	Anchors       Anchors               `json:"anchors" koanf:"anchors"`
	WorkingSize   int                   `json:"working_size" koanf:"working_size"`
	FlipRows      bool                  `json:"flip_rows" koanf:"flip_rows"`
	Frame         FrameFormat           `json:"frame" koanf:"frame"`
}

// CompositeHeaderBytes is the header size of the published composite files
// (RDR_CMP_HSR_PUB_*.bin.gz) ahead of the int16 payload.
const CompositeHeaderBytes = 1024

// DefaultProfile reproduces the legacy conversion of the national composite:
// 2 km 512x512 north-up output with the fixed 2936-pixel working square.
func DefaultProfile() Profile {
	return Profile{
		SchemaVersion: ProfileSchema,
		Name:          "composite-2km",
		Source:        domain.ReferenceSource,
		Target:        domain.ReferenceTarget,
		Projection:    projection.RadarComposite,
		Anchors: Anchors{
			SouthWest: LatLon{Lat: domain.SouthWestAnchor.Lat(), Lon: domain.SouthWestAnchor.Lon()},
			NorthEast: LatLon{Lat: domain.NorthEastAnchor.Lat(), Lon: domain.NorthEastAnchor.Lon()},
		},
		WorkingSize: 2936,
		FlipRows:    true,
		Frame:       FrameFormat{HeaderBytes: CompositeHeaderBytes},
	}
}

// LoadProfile merges an optional YAML file with REGRID__ env vars over the
// default profile. A missing file is not an error; an empty path skips it.
func LoadProfile(path string) (Profile, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Profile{}, fmt.Errorf("load profile %s: %w", path, err)
		}
	}

	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, profileEnvPrefix))
	}
	if err := k.Load(env.Provider(profileEnvPrefix, "__", envKey), nil); err != nil {
		return Profile{}, fmt.Errorf("load profile env: %w", err)
	}

	p := DefaultProfile()
	if err := k.Unmarshal("", &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.SchemaVersion != ProfileSchema {
		return Profile{}, fmt.Errorf("profile schema_version %q not supported (want %q)", p.SchemaVersion, ProfileSchema)
	}
	if p.Frame.HeaderBytes < 0 {
		return Profile{}, fmt.Errorf("profile frame.header_bytes %d must not be negative", p.Frame.HeaderBytes)
	}
	return p, nil
}

// Options converts the profile into RegionTransform options.
func (p Profile) Options() domain.RegionOptions {
	return domain.RegionOptions{
		Projection: p.Projection,
		Anchors: orb.Bound{
			Min: orb.Point{p.Anchors.SouthWest.Lon, p.Anchors.SouthWest.Lat},
			Max: orb.Point{p.Anchors.NorthEast.Lon, p.Anchors.NorthEast.Lat},
		},
		WorkingSize: p.WorkingSize,
		FlipRows:    p.FlipRows,
	}
}

// NewTransform builds the RegionTransform described by the profile.
func (p Profile) NewTransform() (*domain.RegionTransform, error) {
	return domain.NewRegionTransform(p.Source, p.Target, p.Options())
}
