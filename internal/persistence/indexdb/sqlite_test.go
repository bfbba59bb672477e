package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func TestSQLiteIndex_WriteTickAndFlights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.WriteTick(world.TickLogEntry{Tick: 7, Frame: 14, Elapsed: 0.35, Stats: world.FrameStats{Moving: 40, Parked: 12, TBones: 1}})
	_ = idx.WriteTick(world.TickLogEntry{
		Tick:  8,
		Frame: 16,
		Stats: world.FrameStats{Moving: 41, HelicoptersFlying: 1},
		Flights: []world.FlightEvent{
			{Heli: 2, Kind: world.FlightTakeoff, FromPad: 1, ToPad: 4},
			{Heli: 3, Kind: world.FlightLanded, FromPad: -1, ToPad: 0},
		},
		Horns: 3,
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second close is a no-op
	if err := idx.Close(); err != nil {
		t.Fatalf("Close again: %v", err)
	}
	_ = idx.WriteTick(world.TickLogEntry{Tick: 9})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var frames, moving, tbones, horns int
	if err := db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&frames); err != nil {
		t.Fatalf("count: %v", err)
	}
	if frames != 2 {
		t.Fatalf("frames=%d want 2", frames)
	}
	if err := db.QueryRow(`SELECT moving,tbones,horns FROM frames WHERE tick=7`).Scan(&moving, &tbones, &horns); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if moving != 40 || tbones != 1 || horns != 0 {
		t.Fatalf("tick 7 row: moving=%d tbones=%d horns=%d", moving, tbones, horns)
	}

	var kind string
	var heli, toPad int
	if err := db.QueryRow(`SELECT heli,kind,to_pad FROM flights WHERE tick=8 AND seq=0`).Scan(&heli, &kind, &toPad); err != nil {
		t.Fatalf("flight: %v", err)
	}
	if heli != 2 || kind != world.FlightTakeoff || toPad != 4 {
		t.Fatalf("flight row: heli=%d kind=%s to=%d", heli, kind, toPad)
	}
}

func TestSQLiteIndex_RecordSnapshotAndTuning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	tu := tuning.Defaults()
	if err := idx.UpsertTuning("city_1", tu); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, RunID: "r1", Tick: 600},
		Seed:   42,
		Traffic: traffic.State{Cars: []traffic.Car{
			{MaxSpeed: 1},
			{MaxSpeed: 0},
			{MaxSpeed: 1, Destroyed: true},
		}},
	}
	idx.RecordSnapshot(filepath.Join(dir, "missing.snap.zst"), snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var runID string
	var seed int64
	var cars, moving int
	row := db.QueryRow(`SELECT run_id,seed,cars,moving FROM snapshots WHERE tick=600`)
	if err := row.Scan(&runID, &seed, &cars, &moving); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if runID != "r1" || seed != 42 || cars != 3 || moving != 1 {
		t.Fatalf("row mismatch: run=%s seed=%d cars=%d moving=%d", runID, seed, cars, moving)
	}

	var worldID, digest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='world_id'`).Scan(&worldID); err != nil || worldID != "city_1" {
		t.Fatalf("world_id=%q err=%v", worldID, err)
	}
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='tuning_digest'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("digest=%q err=%v", digest, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
