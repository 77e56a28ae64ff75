// Command regrid-batch converts a directory of stored radar frames in one pass.
//
// Usage:
//
//	go run ./cmd/regrid-batch \
//	  -in data/incoming -out data/regridded \
//	  -workers 8 -catalog data/catalog.db -profile profiles/composite-2km.yml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/couchcryptid/radar-regrid/internal/batch"
	"github.com/couchcryptid/radar-regrid/internal/catalog"
	"github.com/couchcryptid/radar-regrid/internal/config"
	"github.com/couchcryptid/radar-regrid/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "regrid-batch:", err)
		os.Exit(1)
	}
}

func run() error {
	in := flag.String("in", "", "input directory of source frames")
	out := flag.String("out", "", "output directory for regridded rasters")
	pattern := flag.String("pattern", "", "file name glob (default: *.bin, *.raw, optionally .gz)")
	workers := flag.Int("workers", runtime.NumCPU(), "concurrent conversions")
	catalogPath := flag.String("catalog", "", "SQLite catalog path; frames already done are skipped")
	profilePath := flag.String("profile", os.Getenv("REGRID_PROFILE"), "grid profile YAML")
	force := flag.Bool("force", false, "reconvert frames the catalog marks done")
	logLevel := flag.String("log-level", "info", "log level")
	logFormat := flag.String("log-format", "text", "log format (json|text)")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -in, -out")
	}

	logger := observability.NewLogger(*logLevel, *logFormat)
	metrics := observability.NewMetrics()

	profile, err := config.LoadProfile(*profilePath)
	if err != nil {
		return err
	}
	rt, err := profile.NewTransform()
	if err != nil {
		return fmt.Errorf("profile %s: %w", profile.Name, err)
	}
	sw, ne := rt.Anchors()
	logger.Info("transform ready", "profile", profile.Name, "scale_res", rt.ScaleRes(),
		"working_size", rt.WorkingSize(), "south_west", sw, "north_east", ne)

	var cat batch.Catalog
	if *catalogPath != "" {
		store, err := catalog.Open(*catalogPath)
		if err != nil {
			return err
		}
		defer store.Close()
		cat = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := batch.NewDriver(rt, cat, batch.Options{
		InputDir:    *in,
		OutputDir:   *out,
		Pattern:     *pattern,
		Workers:     *workers,
		Profile:     profile.Name,
		HeaderBytes: profile.Frame.HeaderBytes,
		Force:       *force,
	}, metrics, logger)

	sum, err := d.Run(ctx)
	fmt.Printf("run %s: %d converted, %d skipped, %d failed in %s\n",
		sum.RunID, sum.Converted, sum.Skipped, sum.Failed, sum.Duration.Round(time.Millisecond))
	printFailures(sum.Failures)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d frames failed", sum.Failed)
	}
	return nil
}

func printFailures(failures map[string]string) {
	sources := make([]string, 0, len(failures))
	for s := range failures {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Printf("  FAIL %s: %s\n", s, failures[s])
	}
}
