package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AugustSaintFreytag/minecraft-create-render-fix/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	fixtureID := fs.String("fixture", "", "fixture id (events)")
	kind := fs.String("kind", "", "event kind filter (events)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "lod.sqlite")
	}
	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "snapshots":
		db := openDB(path)
		defer db.Close()
		rows, err := db.Query(`SELECT tick,path,digest,regions,chunks,entries,fixtures FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Path     string `json:"path"`
				Digest   string `json:"digest"`
				Regions  int    `json:"regions"`
				Chunks   int    `json:"chunks"`
				Entries  int    `json:"entries"`
				Fixtures int    `json:"fixtures"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Digest, &r.Regions, &r.Chunks, &r.Entries, &r.Fixtures); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "tuning":
		db := openDB(path)
		defer db.Close()
		var digest, body, updated string
		row := db.QueryRow(`SELECT digest,json,updated_at FROM tuning ORDER BY updated_at DESC LIMIT 1`)
		if err := row.Scan(&digest, &body, &updated); err != nil {
			fail("scan", err)
		}
		printJSON(map[string]any{"digest": digest, "updated_at": updated, "tuning": json.RawMessage(body)})

	case "events":
		if strings.TrimSpace(*fixtureID) == "" {
			fmt.Fprintln(os.Stderr, "missing -fixture")
			os.Exit(2)
		}
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			fail("open", err)
		}
		defer idx.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		evs, err := idx.Events(ctx, *fixtureID, *kind, *limit)
		if err != nil {
			fail("query", err)
		}
		for _, ev := range evs {
			printJSON(ev)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want snapshots, tuning or events)")
		os.Exit(2)
	}
}

func openDB(path string) *sql.DB {
	if _, err := os.Stat(path); err != nil {
		fail("open", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fail("open", err)
	}
	return db
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
