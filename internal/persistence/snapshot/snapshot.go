// Package snapshot persists the LOD state: the override index and the
// fixture records. A snapshot file is zstd-compressed: one JSON header line,
// then the JSON body.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

const Version = 1

// Suffix is the file name suffix of snapshot files, after the tick.
const Suffix = ".snap.zst"

type Header struct {
	Version    int    `json:"version"`
	Tick       int64  `json:"tick"`
	TickRateHz int    `json:"tick_rate_hz,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Regions []RegionV1 `json:"regions"`
	// Fixtures use the wire record keys. Older files may use legacy keys;
	// readers decode them through the key fallback table.
	Fixtures []map[string]any `json:"fixtures"`
}

type RegionV1 struct {
	RegionID string    `json:"region_id"`
	Chunks   []ChunkV1 `json:"chunks"`
}

type ChunkV1 struct {
	CX      int32     `json:"cx"`
	CZ      int32     `json:"cz"`
	Entries []EntryV1 `json:"entries"`
}

type EntryV1 struct {
	Owner   string `json:"owner,omitempty"`
	X       int32  `json:"x"`
	Y       int32  `json:"y"`
	Z       int32  `json:"z"`
	State   []byte `json:"state,omitempty"`
	BiomeID string `json:"biome_id,omitempty"`
}

// Digest hashes the body of snap, excluding the header, so two snapshots of
// unchanged state taken at different ticks hash equal.
func Digest(snap SnapshotV1) (uint64, error) {
	b, err := json.Marshal(struct {
		Regions  []RegionV1       `json:"regions"`
		Fixtures []map[string]any `json:"fixtures"`
	}{snap.Regions, snap.Fixtures})
	if err != nil {
		return 0, err
	}
	return xxh3.Hash(b), nil
}

// FileName is the base name of the snapshot taken at tick.
func FileName(tick int64) string {
	return strconv.FormatInt(tick, 10) + Suffix
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if snap.Header.Digest == "" {
		d, err := Digest(snap)
		if err != nil {
			return fmt.Errorf("digest: %w", err)
		}
		snap.Header.Digest = strconv.FormatUint(d, 16)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &hdr); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if hdr.Version > Version {
		return snap, fmt.Errorf("snapshot version %d is newer than %d", hdr.Version, Version)
	}

	jd := json.NewDecoder(br)
	jd.UseNumber()
	if err := jd.Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	snap.Header = hdr
	return snap, nil
}

// Writer writes snapshots into a directory and skips a write when the state
// has not changed since the last one it wrote.
type Writer struct {
	dir string

	mu      sync.Mutex
	last    uint64
	hasLast bool
}

func NewWriter(dir string) *Writer { return &Writer{dir: dir} }

// Write stores snap as <dir>/<tick>.snap.zst. wrote is false when the body
// digest matches the previous write.
func (w *Writer) Write(snap SnapshotV1) (path string, wrote bool, err error) {
	d, err := Digest(snap)
	if err != nil {
		return "", false, fmt.Errorf("digest: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasLast && w.last == d {
		return "", false, nil
	}
	snap.Header.Digest = strconv.FormatUint(d, 16)
	path = filepath.Join(w.dir, FileName(snap.Header.Tick))
	if err := WriteSnapshot(path, snap); err != nil {
		return path, false, err
	}
	w.last, w.hasLast = d, true
	return path, true, nil
}

// Seed marks snap as already written, so an unchanged state right after a
// restore is not written again.
func (w *Writer) Seed(snap SnapshotV1) {
	d, err := Digest(snap)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.last, w.hasLast = d, true
	w.mu.Unlock()
}
