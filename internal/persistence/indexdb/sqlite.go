package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

// SQLiteIndex is a read model over frame logs and snapshots. Writes are queued
// and applied by one writer goroutine; a full queue drops the write.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick        uint64
	Path        string
	RunID       string
	Seed        int64
	Cars        int
	Moving      int
	Helicopters int
	Peds        int
	Bytes       int64
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			tick INTEGER PRIMARY KEY,
			frame INTEGER NOT NULL,
			elapsed REAL NOT NULL,
			moving INTEGER NOT NULL,
			parked INTEGER NOT NULL,
			separated INTEGER NOT NULL,
			reverted INTEGER NOT NULL,
			clamped INTEGER NOT NULL,
			tbones INTEGER NOT NULL,
			navigator_hits INTEGER NOT NULL,
			ped_stops INTEGER NOT NULL,
			blocked_isecs INTEGER NOT NULL,
			flying INTEGER NOT NULL,
			peds_crossing INTEGER NOT NULL,
			horns INTEGER NOT NULL,
			destroyed INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flights (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			heli INTEGER NOT NULL,
			kind TEXT NOT NULL,
			from_pad INTEGER NOT NULL,
			to_pad INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_flights_heli_tick ON flights(heli, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			run_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			cars INTEGER NOT NULL,
			moving INTEGER NOT NULL,
			helicopters INTEGER NOT NULL,
			peds INTEGER NOT NULL,
			bytes INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// JSONL frame logs remain the source of truth
		s.dropTick.Add(1)
	}
	return nil
}

// RecordSnapshot indexes a snapshot file written at path.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	r := snapshotRow{
		Tick:        snap.Header.Tick,
		Path:        path,
		RunID:       snap.Header.RunID,
		Seed:        snap.Seed,
		Cars:        len(snap.Traffic.Cars),
		Moving:      lo.CountBy(snap.Traffic.Cars, func(c traffic.Car) bool { return !c.IsParked() && !c.Destroyed }),
		Helicopters: len(snap.Traffic.Helicopters),
		Peds:        len(snap.Peds),
		Bytes:       size,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertTuning stores the tuning actually applied, with its digest, in meta.
func (s *SQLiteIndex) UpsertTuning(worldID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	rows := [][2]string{
		{"schema_version", "1"},
		{"world_id", worldID},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
		{"updated_at", time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for _, r := range rows {
		if _, err := stmt.Exec(r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(tick,frame,elapsed,moving,parked,separated,reverted,clamped,tbones,navigator_hits,ped_stops,blocked_isecs,flying,peds_crossing,horns,destroyed,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertFlight, _ := s.db.Prepare(`INSERT OR REPLACE INTO flights(tick,seq,heli,kind,from_pad,to_pad) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,run_id,seed,cars,moving,helicopters,peds,bytes) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFrame, insertFlight, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			st := e.Stats
			b, _ := json.Marshal(e)
			if insertFrame != nil {
				if _, err := tx.Stmt(insertFrame).Exec(
					int64(e.Tick),
					int64(e.Frame),
					e.Elapsed,
					st.Moving, st.Parked,
					st.Separated, st.Reverted, st.Clamped, st.TBones,
					st.NavigatorHits, st.PedStops, st.BlockedIsecs,
					st.HelicoptersFlying, st.PedsCrossing,
					e.Horns, e.Destroyed,
					string(b),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for i, f := range e.Flights {
				if insertFlight == nil {
					break
				}
				if _, err := tx.Stmt(insertFlight).Exec(int64(e.Tick), i, f.Heli, f.Kind, f.FromPad, f.ToPad); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					sn.RunID,
					sn.Seed,
					sn.Cars,
					sn.Moving,
					sn.Helicopters,
					sn.Peds,
					sn.Bytes,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
