package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	persistlog "citytraffic.ai/internal/persistence/log"
	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func TestSummarizeFrames(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewTickLogger(dir, 1)
	for tick := uint64(10); tick < 20; tick++ {
		e := world.TickLogEntry{Tick: tick, Stats: world.FrameStats{Moving: int(tick), TBones: 1}}
		if tick == 12 {
			e.Flights = []world.FlightEvent{{Heli: 0, Kind: world.FlightTakeoff, FromPad: 0, ToPad: 1}}
		}
		if tick == 17 {
			e.Flights = []world.FlightEvent{{Heli: 0, Kind: world.FlightLanded, FromPad: -1, ToPad: 1}}
			e.Horns = 2
		}
		_ = l.WriteTick(e)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := summarizeFrames(dir)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if s.Entries != 10 || s.FirstTick != 10 || s.LastTick != 19 {
		t.Fatalf("range: %+v", s)
	}
	if s.TBones != 10 || s.PeakMoving != 19 || s.Takeoffs != 1 || s.Landings != 1 || s.Horns != 2 {
		t.Fatalf("totals: %+v", s)
	}

	if _, err := summarizeFrames(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestLoadWorldFromSnapshot(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tu := tuning.Defaults()
	tu.Traffic.NumCars = 25
	src, err := world.New(world.Config{TickRateHz: 20}, tu, logger)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	for i := 0; i < 30; i++ {
		src.StepOnce()
	}
	path := filepath.Join(t.TempDir(), "29.snap.zst")
	if err := snapshot.WriteSnapshot(path, src.ExportSnapshot(src.CurrentTick()-1)); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := loadWorld(path, "", logger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if w.CurrentTick() != src.CurrentTick() || w.TickRateHz() != 20 {
		t.Fatalf("tick=%d hz=%d want tick=%d", w.CurrentTick(), w.TickRateHz(), src.CurrentTick())
	}
	if w.Traffic().NumCars() != src.Traffic().NumCars() {
		t.Fatalf("cars=%d want %d", w.Traffic().NumCars(), src.Traffic().NumCars())
	}
}
