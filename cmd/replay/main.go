package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	persistlog "citytraffic.ai/internal/persistence/log"
	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; fresh world from -tuning otherwise)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used for a fresh world")
		framesDir  = flag.String("frames", "", "world dir containing frames/frames-*.jsonl.zst (optional)")
		ticks      = flag.Uint64("ticks", 0, "ticks to simulate headless")
		verbose    = flag.Bool("v", false, "log world events")
	)
	flag.Parse()

	logger := logrus.New()
	if !*verbose {
		logger.SetOutput(io.Discard)
	}

	if *framesDir != "" {
		sum, err := summarizeFrames(*framesDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "frames:", err)
			os.Exit(1)
		}
		sum.print(os.Stdout)
	}
	if *snapPath == "" && *ticks == 0 {
		return
	}

	w, err := loadWorld(*snapPath, *tuningPath, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	start := w.CurrentTick()
	var tot frameSummary
	began := time.Now()
	for i := uint64(0); i < *ticks; i++ {
		tick, st := w.StepOnce()
		tot.add(world.TickLogEntry{Tick: tick, Stats: st})
	}
	elapsed := time.Since(began)
	m := w.Metrics()

	fmt.Printf("simulated ticks=%d..%d in %s (%.3f ms/tick)\n", start, w.CurrentTick(), elapsed.Round(time.Millisecond), msPerTick(elapsed, *ticks))
	fmt.Printf("cars=%d moving=%d parked=%d helicopters=%d flying=%d pads_in_use=%d\n",
		m.Cars, m.Stats.Moving, m.Stats.Parked, m.Helicopters, m.Stats.HelicoptersFlying, m.PadsInUse)
	fmt.Printf("tbones=%s separated=%s reverted=%s navigator_hits=%s ped_stops=%s horns=%s\n",
		humanize.Comma(int64(tot.TBones)), humanize.Comma(int64(tot.Separated)), humanize.Comma(int64(tot.Reverted)),
		humanize.Comma(int64(tot.NavigatorHits)), humanize.Comma(int64(tot.PedStops)), humanize.Comma(int64(m.HornsTotal)))
}

func loadWorld(snapPath, tuningPath string, logger logrus.FieldLogger) (*world.World, error) {
	if snapPath == "" {
		tune, err := tuning.Load(tuningPath)
		if err != nil {
			return nil, fmt.Errorf("load tuning: %w", err)
		}
		return world.New(world.Config{}, tune, logger)
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	fmt.Printf("snapshot v%d world=%s run=%s tick=%d seed=%d cars=%d helicopters=%d peds=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.RunID, snap.Header.Tick, snap.Seed,
		len(snap.Traffic.Cars), len(snap.Traffic.Helicopters), len(snap.Peds))

	w, err := world.New(world.Config{ID: snap.Header.WorldID, TickRateHz: snap.TickRateHz}, snap.Tuning, logger)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w, nil
}

func msPerTick(d time.Duration, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(d.Microseconds()) / 1000 / float64(n)
}

type frameSummary struct {
	Files     int
	Entries   int
	FirstTick uint64
	LastTick  uint64

	TBones        int
	Separated     int
	Reverted      int
	NavigatorHits int
	PedStops      int
	PeakMoving    int
	Takeoffs      int
	Landings      int
	Horns         int
	Destroyed     int
}

func (s *frameSummary) add(e world.TickLogEntry) {
	if s.Entries == 0 || e.Tick < s.FirstTick {
		s.FirstTick = e.Tick
	}
	s.LastTick = max(s.LastTick, e.Tick)
	s.Entries++
	s.TBones += e.Stats.TBones
	s.Separated += e.Stats.Separated
	s.Reverted += e.Stats.Reverted
	s.NavigatorHits += e.Stats.NavigatorHits
	s.PedStops += e.Stats.PedStops
	s.PeakMoving = max(s.PeakMoving, e.Stats.Moving)
	s.Horns += e.Horns
	s.Destroyed += e.Destroyed
	for _, f := range e.Flights {
		switch f.Kind {
		case world.FlightTakeoff:
			s.Takeoffs++
		case world.FlightLanded:
			s.Landings++
		}
	}
}

func (s frameSummary) print(out io.Writer) {
	fmt.Fprintf(out, "frames: files=%d entries=%s ticks=%d..%d\n", s.Files, humanize.Comma(int64(s.Entries)), s.FirstTick, s.LastTick)
	fmt.Fprintf(out, "  peak_moving=%d tbones=%d separated=%d reverted=%d navigator_hits=%d ped_stops=%d\n",
		s.PeakMoving, s.TBones, s.Separated, s.Reverted, s.NavigatorHits, s.PedStops)
	fmt.Fprintf(out, "  takeoffs=%d landings=%d horns=%d destroyed=%d\n", s.Takeoffs, s.Landings, s.Horns, s.Destroyed)
}

func summarizeFrames(worldDir string) (frameSummary, error) {
	var s frameSummary
	files, err := persistlog.Files(worldDir)
	if err != nil {
		return s, err
	}
	if len(files) == 0 {
		return s, errors.New("no frame logs found in " + worldDir)
	}
	s.Files = len(files)
	for _, path := range files {
		if err := persistlog.ReadTicks(path, func(e world.TickLogEntry) error {
			s.add(e)
			return nil
		}); err != nil {
			return s, err
		}
	}
	return s, nil
}
