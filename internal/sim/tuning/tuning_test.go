package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lod.yaml")
	body := "sync:\n  interval_ticks: 40\nbroadcast:\n  stride_chunks: 4\ngeometry:\n  max_segments: 12\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Sync.IntervalTicks != 40 || tu.Broadcast.StrideChunks != 4 || tu.Geometry.MaxSegments != 12 {
		t.Fatalf("overrides not applied: %+v", tu)
	}
	if tu.Sync.AngleThreshold != 0.5 || tu.Geometry.MinSegments != 6 {
		t.Fatalf("defaults lost: %+v", tu)
	}
}

func TestLoad_RejectsBadBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lod.yaml")
	if err := os.WriteFile(path, []byte("geometry:\n  min_segments: 10\n  max_segments: 4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
