package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	heli := fs.Int("heli", -1, "helicopter filter (flights)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(os.Stdout, db, q, dbQueryOpts{Limit: *limit, Heli: *heli}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] [-heli H] snapshots|frames|flights|tuning|busiest")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type dbQueryOpts struct {
	Limit int
	Heli  int
}

func runQuery(out io.Writer, db *sql.DB, q string, o dbQueryOpts) error {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,run_id,seed,cars,moving,helicopters,peds,bytes FROM snapshots ORDER BY tick DESC LIMIT ?`, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick        int64  `json:"tick"`
				Path        string `json:"path"`
				RunID       string `json:"run_id"`
				Seed        int64  `json:"seed"`
				Cars        int    `json:"cars"`
				Moving      int    `json:"moving"`
				Helicopters int    `json:"helicopters"`
				Peds        int    `json:"peds"`
				Bytes       int64  `json:"bytes"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.RunID, &r.Seed, &r.Cars, &r.Moving, &r.Helicopters, &r.Peds, &r.Bytes); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "frames":
		rows, err := db.Query(`SELECT raw_json FROM frames ORDER BY tick DESC LIMIT ?`, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			fmt.Fprintln(out, raw)
		}
		return rows.Err()

	case "flights":
		sqlq := `SELECT tick,heli,kind,from_pad,to_pad FROM flights ORDER BY tick DESC, seq LIMIT ?`
		args := []any{o.Limit}
		if o.Heli >= 0 {
			sqlq = `SELECT tick,heli,kind,from_pad,to_pad FROM flights WHERE heli=? ORDER BY tick DESC, seq LIMIT ?`
			args = []any{o.Heli, o.Limit}
		}
		rows, err := db.Query(sqlq, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Heli    int    `json:"heli"`
				Kind    string `json:"kind"`
				FromPad int    `json:"from_pad"`
				ToPad   int    `json:"to_pad"`
			}
			if err := rows.Scan(&r.Tick, &r.Heli, &r.Kind, &r.FromPad, &r.ToPad); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "busiest":
		// Frames with the most collision resolutions.
		rows, err := db.Query(`SELECT tick,moving,separated,reverted,tbones FROM frames ORDER BY (separated+reverted+tbones) DESC, tick LIMIT ?`, o.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64 `json:"tick"`
				Moving    int   `json:"moving"`
				Separated int   `json:"separated"`
				Reverted  int   `json:"reverted"`
				TBones    int   `json:"tbones"`
			}
			if err := rows.Scan(&r.Tick, &r.Moving, &r.Separated, &r.Reverted, &r.TBones); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "tuning":
		rows, err := db.Query(`SELECT key,value FROM meta WHERE key<>'tuning' ORDER BY key`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		m := map[string]string{}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			m[k] = v
		}
		if err := rows.Err(); err != nil {
			return err
		}
		printJSON(out, m)
		return nil

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
