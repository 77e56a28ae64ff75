// Command gensample writes synthetic radar frames in the stored frame format
// for fixtures and local runs, plus a JSON-lines file of frame notices that
// can be replayed onto the source topic.
//
// Usage:
//
//	go run ./cmd/gensample -out data/incoming -pattern storm -count 6
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/radar-regrid/internal/adapter/rawfile"
	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/projection"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory")
	profilePath := flag.String("profile", os.Getenv("REGRID_PROFILE"), "grid profile YAML")
	pattern := flag.String("pattern", "storm", "constant | gradient | sentinel | storm")
	value := flag.Float64("value", 20000, "peak raw reflectivity value")
	count := flag.Int("count", 1, "number of frames, 10 minutes apart")
	start := flag.String("start", "2024-07-01T00:00:00Z", "observation time of the first frame (RFC 3339)")
	compress := flag.Bool("gzip", true, "gzip the frames")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	t0, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	profile, err := config.LoadProfile(*profilePath)
	if err != nil {
		return err
	}
	proj, err := projection.New(profile.Projection)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	// A fixed clock keeps fixture notices reproducible.
	clock := clockwork.NewFakeClockAt(t0)
	notices := make([]domain.FrameNotice, 0, *count)
	for i := range *count {
		observed := clock.Now().UTC()
		g, err := generate(*pattern, profile.Source, proj, float32(*value), i)
		if err != nil {
			return err
		}

		name := fmt.Sprintf("RDR_CMP_%s.bin", observed.Format("200601021504"))
		if *compress {
			name += ".gz"
		}
		path := filepath.Join(*out, name)
		if err := writeFrame(path, g, profile.Frame.HeaderBytes, *compress); err != nil {
			return err
		}
		notices = append(notices, domain.FrameNotice{FrameID: domain.FrameID(path), Location: path, ObservedAt: observed})
		log.Printf("wrote %s (%s, max %.0f)", path, *pattern, g.Stats().Max)
		clock.Advance(10 * time.Minute)
	}

	return writeNotices(filepath.Join(*out, "notices.jsonl"), notices)
}

// generate builds one frame. The storm pattern places a Gaussian echo cell
// over the Korean peninsula that drifts east by 10 km per frame.
func generate(pattern string, src domain.SourceGridSpec, proj projection.Projection, peak float32, frame int) (*domain.Grid, error) {
	g := domain.NewGrid(src.Height, src.Width)
	switch pattern {
	case "constant":
		for i := range g.Data {
			g.Data[i] = peak
		}
	case "gradient":
		for r := range g.Rows {
			for c := range g.Cols {
				g.Set(r, c, peak*float32(c)/float32(max(g.Cols-1, 1)))
			}
		}
	case "sentinel":
		for i := range g.Data {
			g.Data[i] = domain.NoData
		}
	case "storm":
		center, err := proj.FromWGS84(orb.Point{127.0, 37.5})
		if err != nil {
			return nil, err
		}
		toPixel, err := domain.PixelToGround(src).Invert()
		if err != nil {
			return nil, err
		}
		cx, cy := toPixel.Apply(center.X()+float64(frame)*10000, center.Y())
		sigma := 40000 / src.Resolution
		for r := range g.Rows {
			for c := range g.Cols {
				dx, dy := float64(c)-cx, float64(r)-cy
				g.Set(r, c, float32(float64(peak)*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))))
			}
		}
	default:
		return nil, fmt.Errorf("unknown pattern %q", pattern)
	}
	return g, nil
}

func writeFrame(path string, g *domain.Grid, header int, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rawfile.Encode(f, g, header, compress); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func writeNotices(path string, notices []domain.FrameNotice) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, n := range notices {
		if err := enc.Encode(n); err != nil {
			_ = f.Close()
			return err
		}
	}
	log.Printf("wrote %d notices to %s", len(notices), path)
	return f.Close()
}
