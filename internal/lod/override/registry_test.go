package override

import (
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"

	"github.com/ethaniccc/float32-cube/cube"
	"github.com/google/uuid"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []ChunkKey
	err   error
}

func (n *recordingNotifier) ChunkChanged(_ string, cx, cz int32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, PackChunk(cx, cz))
	return n.err
}

func sampleEntries() []Entry {
	return []Entry{
		{X: 0, Y: 0, Z: 0, State: BlockState("stone"), BiomeID: "minecraft:plains"},
		{X: 1, Y: 3, Z: 0, State: BlockState("planks")},
		{X: 20, Y: 1, Z: -5, State: BlockState("wool")},
	}
}

func TestChunkKey_RoundTrip(t *testing.T) {
	for _, c := range [][2]int32{{0, 0}, {-1, 1}, {1 << 20, -(1 << 20)}, {-2147483648, 2147483647}} {
		cx, cz := PackChunk(c[0], c[1]).Coords()
		if cx != c[0] || cz != c[1] {
			t.Fatalf("PackChunk(%d,%d).Coords()=(%d,%d)", c[0], c[1], cx, cz)
		}
	}
	if KeyFor(-1, 17) != PackChunk(-1, 1) {
		t.Fatalf("KeyFor(-1,17) should land in chunk (-1,1)")
	}
}

func TestRegister_Idempotent(t *testing.T) {
	r := NewRegistry(nil)
	id := uuid.New()
	anchor := cube.Pos{10, 64, 10}

	if !r.Register(id, "r0", anchor, sampleEntries()) {
		t.Fatalf("first register should succeed")
	}
	once := r.Snapshot()
	if r.Register(id, "r0", anchor, sampleEntries()) {
		t.Fatalf("second register should be a no-op")
	}
	if twice := r.Snapshot(); !reflect.DeepEqual(once, twice) {
		t.Fatalf("state changed after repeated register")
	}
}

func TestFind_ExactMatch(t *testing.T) {
	r := NewRegistry(nil)
	anchor := cube.Pos{10, 64, 10}
	r.Register(uuid.New(), "r0", anchor, sampleEntries())

	e, ok := r.Find("r0", 11, 67, 10)
	if !ok || string(e.State) != "planks" {
		t.Fatalf("Find(11,67,10)=%+v ok=%v", e, ok)
	}
	e, ok = r.Find("r0", 30, 65, 5)
	if !ok || string(e.State) != "wool" {
		t.Fatalf("Find across chunk border=%+v ok=%v", e, ok)
	}
	if _, ok := r.Find("r0", 11, 66, 10); ok {
		t.Fatalf("expected no override at (11,66,10)")
	}
	if _, ok := r.Find("r1", 10, 64, 10); ok {
		t.Fatalf("expected no override in unrelated region")
	}
}

func TestFind_InsertionOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var entries []Entry
	for i := 0; i < 200; i++ {
		entries = append(entries, Entry{X: int32(rng.Intn(64) - 32), Y: int32(rng.Intn(8)), Z: int32(rng.Intn(64) - 32), State: BlockState{byte(i)}})
	}
	// Keep one entry per coordinate.
	uniq := map[[3]int32]Entry{}
	for _, e := range entries {
		uniq[[3]int32{e.X, e.Y, e.Z}] = e
	}
	var list []Entry
	for _, e := range uniq {
		list = append(list, e)
	}

	a := NewRegistry(nil)
	b := NewRegistry(nil)
	a.Register(uuid.New(), "r0", cube.Pos{}, list)
	rev := make([]Entry, len(list))
	for i, e := range list {
		rev[len(list)-1-i] = e
	}
	b.Register(uuid.New(), "r0", cube.Pos{}, rev)

	for x := -33; x <= 33; x++ {
		for z := -33; z <= 33; z++ {
			for y := 0; y < 8; y++ {
				ea, oka := a.Find("r0", x, y, z)
				eb, okb := b.Find("r0", x, y, z)
				want, wantOK := uniq[[3]int32{int32(x), int32(y), int32(z)}]
				if oka != wantOK || okb != wantOK {
					t.Fatalf("(%d,%d,%d) ok a=%v b=%v want %v", x, y, z, oka, okb, wantOK)
				}
				if wantOK && (string(ea.State) != string(want.State) || string(eb.State) != string(want.State)) {
					t.Fatalf("(%d,%d,%d) mismatched state", x, y, z)
				}
			}
		}
	}
}

func TestHighestOverrideY_Monotone(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(uuid.New(), "r0", cube.Pos{0, 60, 0}, []Entry{{X: 0, Y: 0}, {X: 0, Y: 5}, {X: 1, Y: 40}})

	if got := r.HighestOverrideY("r0", 0, 0, 62); got != 65 {
		t.Fatalf("HighestOverrideY=%d want 65", got)
	}
	if got := r.HighestOverrideY("r0", 0, 0, 90); got != 90 {
		t.Fatalf("overrides must never lower the height, got %d", got)
	}
	if got := r.HighestOverrideY("r0", 5, 5, -10); got != -10 {
		t.Fatalf("empty column should return default, got %d", got)
	}
	if got := r.HighestOverrideY("nope", 0, 0, 3); got != 3 {
		t.Fatalf("unknown region should return default, got %d", got)
	}
}

func TestUnregister_RemovesOnlyOwnEntriesAndPrunes(t *testing.T) {
	r := NewRegistry(nil)
	a, b := uuid.New(), uuid.New()
	r.Register(a, "r0", cube.Pos{}, []Entry{{X: 0}, {X: 40}})
	r.Register(b, "r0", cube.Pos{}, []Entry{{X: 1}})

	if !r.Unregister(a) {
		t.Fatalf("unregister a should succeed")
	}
	if r.Unregister(a) {
		t.Fatalf("second unregister should report false")
	}
	if _, ok := r.Find("r0", 0, 0, 0); ok {
		t.Fatalf("entry of a still present")
	}
	if _, ok := r.Find("r0", 1, 0, 0); !ok {
		t.Fatalf("entry of b removed")
	}
	st := r.Stats()
	if st.Chunks != 1 || st.Entries != 1 || st.Fixtures != 1 {
		t.Fatalf("empty chunk lists should be pruned, stats=%+v", st)
	}

	r.Unregister(b)
	if st := r.Stats(); st.Regions != 0 {
		t.Fatalf("empty region should be pruned, stats=%+v", st)
	}
}

func TestRemoveVolume(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(uuid.New(), "r0", cube.Pos{100, 64, 100}, []Entry{
		{X: 0}, {X: 2, Y: 2, Z: 2}, {X: 3}, {X: -20},
	})
	n := r.RemoveVolume("r0", cube.Pos{100, 64, 100}, cube.Box(-1, 0, -1, 2, 2, 2))
	if n != 2 {
		t.Fatalf("removed=%d want 2", n)
	}
	if _, ok := r.Find("r0", 103, 64, 100); !ok {
		t.Fatalf("entry outside box removed")
	}
	if _, ok := r.Find("r0", 80, 64, 100); !ok {
		t.Fatalf("entry in another chunk removed")
	}
	if _, ok := r.Find("r0", 102, 66, 102); ok {
		t.Fatalf("entry inside box kept")
	}
}

func TestNotifier_FailuresSwallowed(t *testing.T) {
	r := NewRegistry(nil)
	n := &recordingNotifier{err: errors.New("renderer not ready")}
	r.SetNotifier(n)
	r.Register(uuid.New(), "r0", cube.Pos{}, []Entry{{X: 0}, {X: 16}})
	if len(n.calls) != 2 {
		t.Fatalf("notifications=%d want 2", len(n.calls))
	}

	r.SetNotifier(NotifierFunc(func(string, int32, int32) error { panic("boom") }))
	if !r.Register(uuid.New(), "r0", cube.Pos{}, []Entry{{X: 5}}) {
		t.Fatalf("register should succeed even when notifier panics")
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := NewRegistry(nil)
	id := uuid.New()
	r.Register(id, "minecraft:overworld", cube.Pos{10, 64, 10}, sampleEntries())
	r.Register(uuid.New(), "minecraft:the_nether", cube.Pos{-5, 30, 7}, sampleEntries())
	snap := r.Snapshot()

	n := &recordingNotifier{}
	other := NewRegistry(nil)
	other.SetNotifier(n)
	other.Register(uuid.New(), "junk", cube.Pos{}, []Entry{{X: 1}})
	n.calls = nil
	other.Restore(snap)

	if !reflect.DeepEqual(snap, other.Snapshot()) {
		t.Fatalf("restore did not reproduce snapshot")
	}
	if len(n.calls) != r.Stats().Chunks {
		t.Fatalf("restore notified %d chunks want %d", len(n.calls), r.Stats().Chunks)
	}
	if _, ok := other.Find("junk", 1, 0, 0); ok {
		t.Fatalf("restore should replace prior state")
	}
	if !other.Unregister(id) {
		t.Fatalf("owners should survive restore")
	}

	// Snapshot is a deep copy.
	snap[0].Chunks[0].Entries[0].Entry.State[0] = 'X'
	e, _ := r.Find("minecraft:overworld", 10, 64, 10)
	if string(e.State) != "stone" {
		t.Fatalf("snapshot aliased registry state: %q", e.State)
	}
}

func TestFind_SuffixFallback(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(uuid.New(), "minecraft:overworld", cube.Pos{}, []Entry{{X: 1}})
	if _, ok := r.Find("overworld", 1, 0, 0); !ok {
		t.Fatalf("suffix id should resolve")
	}
	if _, ok := r.Find("", 1, 0, 0); ok {
		t.Fatalf("blank id must not resolve")
	}
}

func TestConcurrentRegisterAndFind(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := uuid.New()
				r.Register(id, "r0", cube.Pos{w * 100, 0, i}, []Entry{{X: 0}, {X: 1}})
				_, _ = r.Find("r0", w*100, 0, i)
				if i%3 == 0 {
					r.Unregister(id)
				}
			}
		}(w)
	}
	wg.Wait()
	if st := r.Stats(); st.Fixtures == 0 || st.Entries != st.Fixtures*2 {
		t.Fatalf("inconsistent stats after concurrent use: %+v", st)
	}
}

func FuzzRegionIDsMatch(f *testing.F) {
	f.Add("minecraft:overworld", "overworld")
	f.Add("a", "ba")
	f.Add("", "x")
	f.Fuzz(func(t *testing.T, a, b string) {
		if RegionIDsMatch(a, b) != RegionIDsMatch(b, a) {
			t.Fatalf("match not symmetric for %q %q", a, b)
		}
		if a != "" && !RegionIDsMatch(a, a) {
			t.Fatalf("id %q does not match itself", a)
		}
		if a == "" && RegionIDsMatch(a, b) {
			t.Fatalf("blank id matched %q", b)
		}
	})
}
