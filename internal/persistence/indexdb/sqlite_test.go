package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/tracker"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent, event: tracker.Event{Tick: 1}}

	s.RecordEvent(tracker.Event{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropEventTotal != 1 {
		t.Fatalf("DropEventTotal=%d want=1", st.DropEventTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WritesEventsAndSnapshots(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}

	id := uuid.New()
	idx.RecordEvent(tracker.Event{Kind: tracker.EventUpdate, Tick: 20, ID: id, RegionID: "r0", State: "TICKING", Angle: 40, Speed: 2})
	idx.RecordEvent(tracker.Event{Kind: tracker.EventCorrection, Tick: 20, ID: id, RegionID: "r0", State: "NON_TICKING", Previous: 10, Angle: 40})
	idx.RecordEvent(tracker.Event{Kind: tracker.EventRemoval, Tick: 60, ID: id, RegionID: "r0", State: "ABSENT"})
	idx.RecordSnapshot("/data/snapshots/100.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{Version: 1, Tick: 100, Digest: "abc"},
		Regions: []snapshot.RegionV1{{RegionID: "r0", Chunks: []snapshot.ChunkV1{
			{Entries: make([]snapshot.EntryV1, 3)},
			{Entries: make([]snapshot.EntryV1, 2)},
		}}},
		Fixtures: []map[string]any{{}, {}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var chunks, entries, fixtures int
	if err := db.QueryRow(`SELECT chunks,entries,fixtures FROM snapshots WHERE tick=100`).Scan(&chunks, &entries, &fixtures); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if chunks != 2 || entries != 5 || fixtures != 2 {
		t.Fatalf("snapshot row chunks=%d entries=%d fixtures=%d", chunks, entries, fixtures)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tuning`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("tuning rows=%d err=%v", n, err)
	}

	idx2 := &SQLiteIndex{db: db}
	rows, err := idx2.Events(context.Background(), id.String(), "", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 3 || rows[0].Kind != "removal" || rows[2].Seq != 0 || rows[1].Seq != 1 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	corr, err := idx2.Events(context.Background(), id.String(), string(tracker.EventCorrection), 10)
	if err != nil || len(corr) != 1 || corr[0].Previous != 10 {
		t.Fatalf("corrections=%+v err=%v", corr, err)
	}
}
