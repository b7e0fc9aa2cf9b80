package drivelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/milk9111/drivesim/nav"
)

// Sample is one vehicle pose and navigator snapshot in a motion trace.
type Sample struct {
	Tick    uint64   `json:"tick"`
	Time    float64  `json:"time"`
	Entity  uint64   `json:"entity"`
	Vehicle string   `json:"vehicle"`
	Pos     nav.Vec3 `json:"pos"`
	Yaw     float64  `json:"yaw"`
	Speed   float64  `json:"speed"`
	Index   int      `json:"index"`
	Mode    string   `json:"mode"`
	Reverse bool     `json:"reverse,omitempty"`
	Blocked bool     `json:"blocked,omitempty"`
}

// TraceWriter appends JSON lines to a zstd-compressed file.
type TraceWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// TracePath is the trace file of run id of scene under dir.
func TracePath(dir, scene string, id int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%06d.jsonl.zst", scene, id))
}

func CreateTrace(path string) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &TraceWriter{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 64*1024),
	}, nil
}

func (t *TraceWriter) Path() string {
	return t.path
}

// Write appends v as one line. Lines stay buffered until Close.
func (t *TraceWriter) Write(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return ErrClosed
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(b); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil
	}

	err := t.w.Flush()
	if cerr := t.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.w, t.enc, t.f = nil, nil, nil
	return err
}

// ReadTrace decodes every sample of a trace file.
func ReadTrace(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Sample
	jd := json.NewDecoder(dec)
	for {
		var s Sample
		if err := jd.Decode(&s); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("drivelog: %s: %w", path, err)
		}
		out = append(out, s)
	}
}
