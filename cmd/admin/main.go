// Command admin inspects LOD server data on disk and drives the server's
// local admin endpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/tracker"
	persistlog "github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/log"
	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "zero-angles":
			zeroAnglesCmd(os.Args[2:])
			return
		case "reregister":
			reregisterCmd(os.Args[2:])
			return
		case "unload-region":
			unloadRegionCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshot files in the data dir, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	snaps, err := listSnapshots(filepath.Join(*dataDir, "snapshots"))
	if err != nil {
		fail("read", err)
	}
	for _, s := range snaps {
		fmt.Printf("%d\t%s\n", s.tick, s.path)
	}
}

type snapFile struct {
	tick int64
	path string
}

func listSnapshots(dir string) ([]snapFile, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshot.Suffix) {
			continue
		}
		tick, err := strconv.ParseInt(strings.TrimSuffix(name, snapshot.Suffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, snapFile{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tick > out[j].tick })
	return out, nil
}

// inspectCmd summarizes one snapshot, the latest by default.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		snaps, err := listSnapshots(filepath.Join(*dataDir, "snapshots"))
		if err != nil || len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
			os.Exit(2)
		}
		path = snaps[0].path
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fail("read snapshot", err)
	}
	printJSON(summarize(snap))
}

type regionSummary struct {
	RegionID string `json:"region_id"`
	Chunks   int    `json:"chunks"`
	Entries  int    `json:"entries"`
	Owners   int    `json:"owners"`
}

type snapSummary struct {
	Tick     int64           `json:"tick"`
	Digest   string          `json:"digest"`
	Fixtures int             `json:"fixtures"`
	Regions  []regionSummary `json:"regions"`
}

func summarize(snap snapshot.SnapshotV1) snapSummary {
	out := snapSummary{Tick: snap.Header.Tick, Digest: snap.Header.Digest, Fixtures: len(snap.Fixtures)}
	for _, r := range snap.Regions {
		rs := regionSummary{RegionID: r.RegionID, Chunks: len(r.Chunks)}
		owners := map[string]bool{}
		for _, c := range r.Chunks {
			rs.Entries += len(c.Entries)
			for _, e := range c.Entries {
				owners[e.Owner] = true
			}
		}
		rs.Owners = len(owners)
		out.Regions = append(out.Regions, rs)
	}
	return out
}

// eventsCmd prints logged sync events, optionally for one fixture and tick
// range.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	fixtureID := fs.String("fixture", "", "fixture id filter (optional)")
	kind := fs.String("kind", "", "event kind filter (optional)")
	sinceTick := fs.Int64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Int64("to_tick", 0, "last tick (inclusive, optional)")
	_ = fs.Parse(args)

	var want uuid.UUID
	if s := strings.TrimSpace(*fixtureID); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -fixture:", err)
			os.Exit(2)
		}
		want = id
	}
	n := 0
	err := persistlog.ReadSyncEvents(*dataDir, func(ev tracker.Event) error {
		if matchEvent(ev, want, tracker.EventKind(*kind), *sinceTick, *toTick) {
			printJSON(ev)
			n++
		}
		return nil
	})
	if err != nil {
		fail("read events", err)
	}
	fmt.Fprintf(os.Stderr, "%d events\n", n)
}

func matchEvent(ev tracker.Event, id uuid.UUID, kind tracker.EventKind, since, to int64) bool {
	if id != uuid.Nil && ev.ID != id {
		return false
	}
	if kind != "" && ev.Kind != kind {
		return false
	}
	if ev.Tick < since || (to > 0 && ev.Tick > to) {
		return false
	}
	return true
}
