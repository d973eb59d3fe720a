// Package log keeps the tracker's sync events as zstd-compressed JSONL
// files, one file per UTC hour.
package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/tracker"
)

const (
	syncPrefix = "sync"
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"
)

// segment is the open file for one hour. Each open appends a new zstd
// frame, so a file reopened after a restart still decodes as one stream.
type segment struct {
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	buf := bufio.NewWriterSize(zw, 64*1024)
	return &segment{hour: hour, file: f, zw: zw, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (s *segment) close() error {
	flushErr := s.buf.Flush()
	zErr := s.zw.Close()
	fErr := s.file.Close()
	for _, err := range []error{flushErr, zErr, fErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// RotatingWriter appends JSON values, one per line, to
// <dir>/<prefix>-<yyyy-mm-dd-hh>.jsonl.zst.
type RotatingWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	cur     *segment
	written uint64
}

func NewRotatingWriter(dir, prefix string) *RotatingWriter {
	return &RotatingWriter{dir: dir, prefix: prefix, now: time.Now}
}

// Write appends v and flushes it through to the compressor.
func (w *RotatingWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	if w.cur == nil || w.cur.hour != hour {
		if err := w.closeLocked(); err != nil {
			return err
		}
		seg, err := openSegment(w.path(hour), hour)
		if err != nil {
			return err
		}
		w.cur = seg
	}
	if err := w.cur.enc.Encode(v); err != nil {
		return err
	}
	if err := w.cur.buf.Flush(); err != nil {
		return err
	}
	w.written++
	return nil
}

// Written is the number of values written since the writer was created.
func (w *RotatingWriter) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *RotatingWriter) closeLocked() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.close()
	w.cur = nil
	return err
}

func (w *RotatingWriter) path(hour string) string {
	return filepath.Join(w.dir, w.prefix+"-"+hour+fileSuffix)
}

// SyncLogger records tracker events under <dataDir>/events.
type SyncLogger struct{ w *RotatingWriter }

func NewSyncLogger(dataDir string) *SyncLogger {
	return &SyncLogger{w: NewRotatingWriter(eventsDir(dataDir), syncPrefix)}
}

func (l *SyncLogger) WriteEvent(ev tracker.Event) error { return l.w.Write(ev) }

func (l *SyncLogger) Written() uint64 { return l.w.Written() }

func (l *SyncLogger) Close() error { return l.w.Close() }

func eventsDir(dataDir string) string { return filepath.Join(dataDir, "events") }
