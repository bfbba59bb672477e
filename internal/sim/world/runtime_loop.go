package world

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingSnapshots []snapshotReq
	var pendingDestroys []destroyReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.snapshotReq:
			pendingSnapshots = append(pendingSnapshots, req)
		case req := <-w.destroyReq:
			pendingDestroys = append(pendingDestroys, req)
		case <-ticker.C:
			w.handleDestroyRequests(pendingDestroys)
			w.step()
			w.handleSnapshotRequests(pendingSnapshots)
			pendingSnapshots = pendingSnapshots[:0]
			pendingDestroys = pendingDestroys[:0]
		}
	}
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// StepOnce advances the world by a single tick using the same ordering as the
// server loop. It is intended for replays and tests.
func (w *World) StepOnce() (tick uint64, stats FrameStats) {
	tick = w.tick.Load()
	w.step()
	return tick, w.Metrics().Stats
}

func (w *World) step() {
	start := time.Now()
	nowTick := w.tick.Load()

	dt := 1 / float64(w.cfg.TickRateHz)
	w.net.Advance(dt)
	w.applyDaylight()

	// pedestrians see last tick's cars
	w.carData = w.traffic.ExtractCarData(w.carData)
	w.peds.Advance(dt, w.carData)

	st := w.traffic.NextFrame(traffic.FrameInput{
		CarSpeed: w.cfg.CarSpeed,
		Fticks:   tuning.TicksPerSecond * dt,
	})
	flights := w.flightEvents()
	horns, destroyed, shadows := w.fx.drain()
	stats := statsFromFrame(st, w.peds.NumCrossing())

	if w.tickLogger != nil {
		entry := TickLogEntry{
			Tick:      nowTick,
			Frame:     st.Frame,
			Elapsed:   w.traffic.Elapsed(),
			Stats:     stats,
			Flights:   flights,
			Horns:     horns,
			Destroyed: destroyed,
		}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.WithError(err).WithField("tick", nowTick).Warn("tick log write failed")
		}
	}
	for _, ev := range flights {
		w.log.WithFields(logrus.Fields{
			"tick": nowTick,
			"heli": ev.Heli,
			"kind": ev.Kind,
			"pad":  ev.ToPad,
		}).Debug("flight")
	}

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && nowTick != 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		select {
		case w.snapshotSink <- w.ExportSnapshot(nowTick):
		default:
			w.log.WithField("tick", nowTick).Warn("snapshot sink backpressure; skipped")
		}
	}

	w.stepObservers(nowTick, stats)

	w.tick.Add(1)
	w.totals.horns += uint64(horns)
	w.totals.destroyed += uint64(destroyed)
	w.totals.shadows += uint64(shadows)
	w.storeMetrics(st, float64(time.Since(start).Microseconds())/1000)
}

// applyDaylight moves the sun along a day cycle driven by the network clock.
// Night lowers the light factor, which turns headlights on.
func (w *World) applyDaylight() {
	if w.cfg.DaySecs <= 0 {
		w.traffic.SetLight(geom.V(0.3, 0.2, 1), 1)
		return
	}
	phase := 2 * math.Pi * math.Mod(w.net.Now(), w.cfg.DaySecs) / w.cfg.DaySecs
	elev := math.Sin(phase)
	dir := geom.V(math.Cos(phase), 0.2, math.Max(elev, 0.05))
	w.traffic.SetLight(dir, geom.Clamp01(0.5+elev))
}

// sendLatest enqueues b, dropping the oldest queued message when ch is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
