// Package replay reads and writes recorded observation sequences as JSON
// lines, one frame per line.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/dlotrack/internal/dlo"
)

// maxLineBytes bounds a single encoded frame.
const maxLineBytes = 64 * 1024 * 1024

// Frame is one recorded observation.
type Frame struct {
	Index          int         `json:"index"`
	TimestampNanos int64       `json:"ts_unix_nanos"`
	Points         [][]float64 `json:"points"`
	Keypoints      [][]float64 `json:"keypoints,omitempty"`
}

// Validate reports coordinates that are not x,y,z triples.
func (f Frame) Validate() error {
	for i, p := range f.Points {
		if len(p) != 3 {
			return fmt.Errorf("point %d has %d coordinates", i, len(p))
		}
	}
	for i, p := range f.Keypoints {
		if len(p) != 3 {
			return fmt.Errorf("keypoint %d has %d coordinates", i, len(p))
		}
	}
	return nil
}

// Cloud returns the observed points.
func (f Frame) Cloud() dlo.PointSet { return toPointSet(f.Points) }

// KeypointSet returns the manually identified keypoints, nil when absent.
func (f Frame) KeypointSet() dlo.PointSet { return toPointSet(f.Keypoints) }

// NewFrame packs point sets into a Frame.
func NewFrame(index int, tsNanos int64, points, keypoints dlo.PointSet) Frame {
	return Frame{
		Index:          index,
		TimestampNanos: tsNanos,
		Points:         fromPointSet(points),
		Keypoints:      fromPointSet(keypoints),
	}
}

func toPointSet(raw [][]float64) dlo.PointSet {
	if len(raw) == 0 {
		return nil
	}
	out := make(dlo.PointSet, len(raw))
	for i, p := range raw {
		out[i] = dlo.Point{X: p[0], Y: p[1], Z: p[2]}
	}
	return out
}

func fromPointSet(ps dlo.PointSet) [][]float64 {
	if len(ps) == 0 {
		return nil
	}
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = []float64{p.X, p.Y, p.Z}
	}
	return out
}

// Reader decodes frames from a JSON-lines stream. Blank lines are skipped.
type Reader struct {
	sc     *bufio.Scanner
	line   int
	closer io.Closer
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// OpenFile opens a replay file for reading. Close releases it.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Next returns the next frame, or io.EOF when the stream is exhausted.
// Decode errors name the offending line.
func (r *Reader) Next() (Frame, error) {
	for r.sc.Scan() {
		r.line++
		b := bytes.TrimSpace(r.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			return Frame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		if err := f.Validate(); err != nil {
			return Frame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, fmt.Errorf("replay line %d: %w", r.line+1, err)
	}
	return Frame{}, io.EOF
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int { return r.line }

// Close releases the underlying file when the reader was opened with
// OpenFile.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Writer encodes frames as JSON lines.
type Writer struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

// NewWriter wraps w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{bw: bw, enc: json.NewEncoder(bw)}
}

// Write appends one frame.
func (w *Writer) Write(f Frame) error {
	if err := w.enc.Encode(f); err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Index, err)
	}
	return nil
}

// Flush writes any buffered frames.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
