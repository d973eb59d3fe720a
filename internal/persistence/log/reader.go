package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/lod/tracker"
)

// SyncLogFiles lists the sync log files under dataDir in write order.
func SyncLogFiles(dataDir string) ([]string, error) {
	dir := eventsDir(dataDir)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, syncPrefix+"-") && strings.HasSuffix(name, fileSuffix) {
			names = append(names, filepath.Join(dir, name))
		}
	}
	// Hour stamps sort lexically.
	sort.Strings(names)
	return names, nil
}

// ReadSyncEvents calls fn for every event logged under dataDir, oldest file
// first. It stops at the first error fn returns.
func ReadSyncEvents(dataDir string, fn func(tracker.Event) error) error {
	paths, err := SyncLogFiles(dataDir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := readEventFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}

func readEventFile(path string, fn func(tracker.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var ev tracker.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
