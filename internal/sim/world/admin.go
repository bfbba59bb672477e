package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
)

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil || w.snapshotReq == nil {
		return 0, errors.New("snapshot not available")
	}
	resp := make(chan snapshotResp, 1)
	select {
	case w.snapshotReq <- snapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case w.snapshotSink <- w.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := snapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// client gave up
		}
	}
}

type destroyReq struct {
	Pos    geom.Vec3
	Radius float64
	Resp   chan int
}

// RequestDestroy destroys every car within radius of pos at the start of the
// next tick and reports how many were hit.
func (w *World) RequestDestroy(ctx context.Context, pos geom.Vec3, radius float64) (int, error) {
	if radius <= 0 {
		return 0, fmt.Errorf("bad radius %v", radius)
	}
	resp := make(chan int, 1)
	select {
	case w.destroyReq <- destroyReq{Pos: pos, Radius: radius, Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-resp:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleDestroyRequests(reqs []destroyReq) {
	for _, r := range reqs {
		n := w.traffic.DestroyCarsInRadius(r.Pos, r.Radius)
		w.log.WithFields(logrus.Fields{"pos": r.Pos, "radius": r.Radius, "destroyed": n}).Info("destroy request")
		select {
		case r.Resp <- n:
		default:
		}
	}
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			RunID:   w.runID,
			Tick:    nowTick,
		},
		Seed:       w.tune.Seed,
		TickRateHz: w.cfg.TickRateHz,
		Tuning:     w.tune,
		NetworkNow: w.net.Now(),
		Traffic:    w.traffic.Export(),
		Peds:       append(w.peds.Peds()[:0:0], w.peds.Peds()...),
	}
}

// ImportSnapshot replaces the traffic state with the snapshot and sets the
// world's tick to snapshotTick+1 (the next tick to simulate). The snapshot
// must come from a world generated with the same seed and network tuning.
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.Seed != w.tune.Seed {
		return fmt.Errorf("snapshot seed %d does not match world seed %d", s.Seed, w.tune.Seed)
	}
	if s.Tuning.Network != w.tune.Network {
		return errors.New("snapshot road network tuning differs from world")
	}
	w.traffic.Restore(s.Traffic)
	w.net.SetNow(s.NetworkNow)
	w.peds.Restore(s.Peds)
	w.markHelicopters()
	w.tick.Store(s.Header.Tick + 1)
	if s.Header.RunID != "" {
		w.runID = s.Header.RunID
	}
	w.applyDaylight()
	w.storeMetrics(traffic.FrameStats{}, 0)
	return nil
}
