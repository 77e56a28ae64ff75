// Command verify checks a grid profile and a directory of regridded outputs.
// It confirms the anchor indices of the profile (the reference composite must
// land on (45,-253) and (2959,2675)) and that every output raster has the
// target shape with finite, non-negative values.
//
// Usage:
//
//	go run ./cmd/verify -profile profiles/composite-2km.yml -outputs data/regridded
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/radar-regrid/internal/adapter/rawfile"
	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/domain"
)

var (
	referenceSW = domain.PixelIndex{Col: 45, Row: -253}
	referenceNE = domain.PixelIndex{Col: 2959, Row: 2675}
)

// phase tracks pass/fail for a verification phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	profilePath := flag.String("profile", os.Getenv("REGRID_PROFILE"), "grid profile YAML")
	outputs := flag.String("outputs", "", "directory of regridded .f32 rasters (optional)")
	flag.Parse()

	os.Exit(run(*profilePath, *outputs))
}

func run(profilePath, outputs string) int {
	fmt.Println("=== Regrid Verification ===")
	fmt.Println()

	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load profile: %v\n", err)
		return 1
	}

	phases := []*phase{verifyProfile(profile)}
	files := 0
	if outputs != "" {
		var p *phase
		p, files = verifyOutputs(outputs, profile.Target)
		phases = append(phases, p)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}
	fmt.Printf("\nProfile %q, %d output rasters checked\n", profile.Name, files)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nVerification FAILED.")
	return 1
}

// ── Profile ──

func verifyProfile(profile config.Profile) *phase {
	p := &phase{name: "Profile geometry"}
	rt, err := profile.NewTransform()
	if err != nil {
		p.errorf("build transform: %v", err)
		return p
	}

	sw, ne := rt.Anchors()
	fmt.Printf("  source %s -> target %s, scale %d, working size %d\n",
		profile.Source, profile.Target, rt.ScaleRes(), rt.WorkingSize())
	rows, cols := rt.Window()
	fmt.Printf("  anchors SW %+v NE %+v, padded window %dx%d\n", sw, ne, rows, cols)

	defaults := config.DefaultProfile()
	if profile.Source == domain.ReferenceSource && profile.Projection == defaults.Projection && profile.Anchors == defaults.Anchors {
		if sw != referenceSW {
			p.errorf("SW anchor %+v, want %+v", sw, referenceSW)
		}
		if ne != referenceNE {
			p.errorf("NE anchor %+v, want %+v", ne, referenceNE)
		}
	}

	// A constant frame must come out as constant/1e4 wherever it is not padding.
	src := domain.NewFilledGrid(profile.Source.Height, profile.Source.Width, 20000)
	out, err := rt.Apply(src)
	if err != nil {
		p.errorf("apply: %v", err)
		return p
	}
	for _, v := range out.Data {
		if v != 0 && math.Abs(float64(v)-2.0) > 1e-6 {
			p.errorf("constant 20000 produced %v, want 2.0 or padding 0", v)
			break
		}
	}
	if out.Stats().Max == 0 {
		p.errorf("constant frame produced an all-padding raster")
	}
	return p
}

// ── Outputs ──

func verifyOutputs(dir string, target domain.TargetGridSpec) (*phase, int) {
	p := &phase{name: "Output rasters"}
	n := 0
	err := filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(path, ".f32") {
			return nil
		}
		n++
		checkOutput(p, path, target)
		return nil
	})
	if err != nil {
		p.errorf("walk %s: %v", dir, err)
	}
	if n == 0 {
		p.errorf("no .f32 rasters under %s", dir)
	}
	return p, n
}

func checkOutput(p *phase, path string, target domain.TargetGridSpec) {
	g, meta, err := rawfile.ReadOutput(path)
	if err != nil {
		p.errorf("%s: %v", path, err)
		return
	}
	if g.Rows != target.Height || g.Cols != target.Width {
		p.errorf("%s: shape %dx%d, want %dx%d", path, g.Rows, g.Cols, target.Height, target.Width)
	}
	if meta.Resolution != target.Resolution {
		p.errorf("%s: resolution %g, want %g", path, meta.Resolution, target.Resolution)
	}
	for i, v := range g.Data {
		if !(v >= 0) || math.IsInf(float64(v), 0) {
			p.errorf("%s: value %v at row %d col %d", path, v, i/g.Cols, i%g.Cols)
			return
		}
	}
	if s := g.Stats(); s.Max != meta.Stats.Max || s.Nonzero != meta.Stats.Nonzero {
		p.errorf("%s: stats %+v disagree with sidecar %+v", path, s, meta.Stats)
	}
}
