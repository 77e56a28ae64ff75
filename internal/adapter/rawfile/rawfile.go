// Package rawfile reads radar frames stored as little-endian int16 rasters and
// writes regridded grids as float32 rasters with a JSON sidecar.
package rawfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/radar-regrid/internal/domain"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Format describes the on-disk layout of a source frame.
type Format struct {
	Rows        int
	Cols        int
	HeaderBytes int
}

// Read loads a frame from path. Gzip input is detected by magic bytes, so
// ".gz" and plain files are handled the same way.
func Read(path string, f Format) (*domain.Grid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer file.Close()

	g, err := Decode(file, f)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	return g, nil
}

// Decode reads one frame from r.
func Decode(r io.Reader, f Format) (*domain.Grid, error) {
	if f.Rows <= 0 || f.Cols <= 0 || f.HeaderBytes < 0 {
		return nil, fmt.Errorf("%w: frame format %dx%d header %d", domain.ErrConfiguration, f.Rows, f.Cols, f.HeaderBytes)
	}

	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, _ := br.Peek(2); bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	if f.HeaderBytes > 0 {
		if _, err := io.CopyN(io.Discard, src, int64(f.HeaderBytes)); err != nil {
			return nil, fmt.Errorf("skip header: %w", err)
		}
	}

	n := f.Rows * f.Cols
	payload, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if len(payload) != 2*n {
		return nil, fmt.Errorf("%w: payload has %d bytes, want %d for %dx%d int16",
			domain.ErrShapeMismatch, len(payload), 2*n, f.Rows, f.Cols)
	}

	values := make([]int16, n)
	for i := range values {
		values[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return domain.FromSlice(f.Rows, f.Cols, values)
}

// Encode writes g as little-endian int16 after a zeroed header. Values are
// rounded and clamped to the int16 range. With compress set the stream is gzipped.
func Encode(w io.Writer, g *domain.Grid, headerBytes int, compress bool) error {
	out := w
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(w)
		out = zw
	}
	bw := bufio.NewWriter(out)
	if headerBytes > 0 {
		if _, err := bw.Write(make([]byte, headerBytes)); err != nil {
			return err
		}
	}
	var buf [2]byte
	for _, v := range g.Data {
		binary.LittleEndian.PutUint16(buf[:], uint16(toInt16(v)))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

func toInt16(v float32) int16 {
	r := math.Round(float64(v))
	switch {
	case math.IsNaN(r):
		return 0
	case r > math.MaxInt16:
		return math.MaxInt16
	case r < math.MinInt16:
		return math.MinInt16
	}
	return int16(r)
}

// Sidecar is the JSON metadata written next to every output raster.
type Sidecar struct {
	FrameID     string           `json:"frame_id"`
	Source      string           `json:"source"`
	Rows        int              `json:"rows"`
	Cols        int              `json:"cols"`
	Resolution  float64          `json:"resolution"`
	Flipped     bool             `json:"flipped"`
	DType       string           `json:"dtype"`
	Stats       domain.GridStats `json:"stats"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// OutputPath maps a frame id to the raster path inside dir.
func OutputPath(dir, frameID string) string {
	return filepath.Join(dir, frameID+".f32")
}

// SidecarPath returns the metadata path for a raster written by Write.
func SidecarPath(rasterPath string) string {
	return strings.TrimSuffix(rasterPath, filepath.Ext(rasterPath)) + ".json"
}

// Write stores g as little-endian float32 at path and its sidecar next to it.
// Both files are written to a temp name first and renamed into place.
func Write(path string, g *domain.Grid, meta Sidecar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	raw := make([]byte, 4*len(g.Data))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	if err := writeAtomic(path, raw); err != nil {
		return fmt.Errorf("write raster: %w", err)
	}

	meta.Rows, meta.Cols, meta.DType = g.Rows, g.Cols, "float32le"
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := writeAtomic(SidecarPath(path), data); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// ReadOutput loads a raster written by Write together with its sidecar.
func ReadOutput(path string) (*domain.Grid, Sidecar, error) {
	var meta Sidecar
	data, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, meta, fmt.Errorf("read sidecar: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, meta, fmt.Errorf("decode sidecar: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, meta, fmt.Errorf("read raster: %w", err)
	}
	if len(raw) != 4*meta.Rows*meta.Cols {
		return nil, meta, fmt.Errorf("%w: raster has %d bytes, sidecar says %dx%d float32",
			domain.ErrShapeMismatch, len(raw), meta.Rows, meta.Cols)
	}
	values := make([]float32, meta.Rows*meta.Cols)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	g, err := domain.FromSlice(meta.Rows, meta.Cols, values)
	return g, meta, err
}

func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// IsFrameFile reports whether name looks like a source frame (.bin, .raw,
// optionally gzipped). Used by directory walks.
func IsFrameFile(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".gz")
	return strings.HasSuffix(name, ".bin") || strings.HasSuffix(name, ".raw")
}
