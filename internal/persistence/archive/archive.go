package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"citytraffic.ai/internal/persistence/snapshot"
)

const snapSuffix = ".snap.zst"

type Meta struct {
	Period     int    `json:"period"`
	EndTick    uint64 `json:"end_tick"`
	RunID      string `json:"run_id"`
	Seed       int64  `json:"seed"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	EveryTicks uint64 `json:"every_ticks"`
	TickRateHz int    `json:"tick_rate_hz"`
}

// Entry is one snapshot file under worldDir/snapshots.
type Entry struct {
	Tick uint64
	Path string
}

// List returns the snapshots under worldDir/snapshots ordered by tick.
// Files whose name is not <tick>.snap.zst are ignored.
func List(worldDir string) ([]Entry, error) {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapSuffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), snapSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Tick: tick, Path: filepath.Join(dir, e.Name())})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Tick < b.Tick:
			return -1
		case a.Tick > b.Tick:
			return 1
		}
		return 0
	})
	return out, nil
}

// ArchiveSnapshot copies a period-end snapshot into
// worldDir/archives/period_<NNN>/. A snapshot ends a period when its tick is
// the last tick of a multiple of everyTicks.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks uint64) (period int, archivedPath string, archived bool, err error) {
	if everyTicks == 0 {
		return 0, "", false, nil
	}
	// Snapshots represent the last executed tick.
	if (snap.Header.Tick+1)%everyTicks != 0 {
		return 0, "", false, nil
	}
	period = int((snap.Header.Tick + 1) / everyTicks)

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("period_%03d", period))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := Meta{
		Period:     period,
		EndTick:    snap.Header.Tick,
		RunID:      snap.Header.RunID,
		Seed:       snap.Seed,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		EveryTicks: everyTicks,
		TickRateHz: snap.TickRateHz,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return period, dst, true, nil
}

// Prune deletes all but the newest keep snapshots. keep <= 0 keeps everything.
// Archived copies are never touched.
func Prune(worldDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := List(worldDir)
	if err != nil || len(ents) <= keep {
		return nil, err
	}
	var removed []string
	for _, e := range ents[:len(ents)-keep] {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, e.Path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
