package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// FrameNotice announces a radar frame ready for regridding. Location is a
// local file path or an http(s) URL.
type FrameNotice struct {
	FrameID    string    `json:"frame_id,omitempty"`
	Location   string    `json:"location"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// RegriddedFrame describes one converted frame on the sink topic.
type RegriddedFrame struct {
	FrameID     string    `json:"frame_id"`
	Source      string    `json:"source"`
	OutputPath  string    `json:"output_path"`
	Rows        int       `json:"rows"`
	Cols        int       `json:"cols"`
	Resolution  float64   `json:"resolution"`
	Flipped     bool      `json:"flipped"`
	Stats       GridStats `json:"stats"`
	ObservedAt  time.Time `json:"observed_at,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

var (
	errMissingLocation = errors.New("frame notice has no location")
	errUnsafeFrameID   = errors.New("frame id must be a single path element")
)

// ParseFrameNotice decodes a source message. A missing frame id is derived
// from the location; a missing observation time falls back to the message timestamp.
// Frame ids name output files, so ids with path separators or ".." are rejected.
func ParseFrameNotice(raw RawEvent) (FrameNotice, error) {
	var n FrameNotice
	if err := json.Unmarshal(raw.Value, &n); err != nil {
		return FrameNotice{}, fmt.Errorf("parse frame notice: %w", err)
	}
	n.Location = strings.TrimSpace(n.Location)
	if n.Location == "" {
		return FrameNotice{}, fmt.Errorf("parse frame notice: %w", errMissingLocation)
	}
	n.FrameID = strings.TrimSpace(n.FrameID)
	if n.FrameID == "" {
		n.FrameID = FrameID(n.Location)
	}
	if !safeFrameID(n.FrameID) {
		return FrameNotice{}, fmt.Errorf("parse frame notice %q: %w", n.FrameID, errUnsafeFrameID)
	}
	if n.ObservedAt.IsZero() {
		n.ObservedAt = raw.Timestamp.UTC()
	}
	return n, nil
}

// FrameID produces a deterministic id from a frame location so replays map to
// the same output: "<base name>-<first 8 bytes of sha256>".
func FrameID(location string) string {
	hash := sha256.Sum256([]byte(location))
	short := hex.EncodeToString(hash[:8])
	base := path.Base(strings.ReplaceAll(location, "\\", "/"))
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" || base == "/" || strings.HasPrefix(base, ".") {
		return short
	}
	return base + "-" + short
}

func safeFrameID(id string) bool {
	if id == "." || strings.Contains(id, "..") {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}

// NewRegriddedFrame assembles the sink event for a converted grid.
func NewRegriddedFrame(n FrameNotice, outputPath string, t *RegionTransform, g *Grid) RegriddedFrame {
	return RegriddedFrame{
		FrameID:     n.FrameID,
		Source:      n.Location,
		OutputPath:  outputPath,
		Rows:        g.Rows,
		Cols:        g.Cols,
		Resolution:  t.Target().Resolution,
		Flipped:     t.FlipsRows(),
		Stats:       g.Stats(),
		ObservedAt:  n.ObservedAt,
		ProcessedAt: clock.Now().UTC(),
	}
}
