package world

import "citytraffic.ai/internal/sim/traffic"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick  uint64     `json:"tick"`
	Frame uint64     `json:"frame"`
	Stats FrameStats `json:"stats"`

	Cars        int `json:"cars"`
	Helicopters int `json:"helicopters"`
	PadsInUse   int `json:"pads_in_use"`
	Observers   int `json:"observers"`

	HornsTotal     uint64 `json:"horns_total"`
	DestroyedTotal uint64 `json:"destroyed_total"`
	ShadowsTotal   uint64 `json:"shadow_invalidations_total"`

	StepMS float64 `json:"step_ms"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	if v := w.metrics.Load(); v != nil {
		if m, ok := v.(WorldMetrics); ok {
			return m
		}
	}
	return WorldMetrics{Tick: w.tick.Load()}
}

func (w *World) storeMetrics(st traffic.FrameStats, stepMS float64) {
	pads := 0
	for _, p := range w.traffic.Helipads() {
		if p.InUse || p.Reserved {
			pads++
		}
	}
	w.metrics.Store(WorldMetrics{
		Tick:           w.tick.Load(),
		Frame:          w.traffic.Frame(),
		Stats:          statsFromFrame(st, w.peds.NumCrossing()),
		Cars:           w.traffic.NumCars(),
		Helicopters:    len(w.traffic.Helicopters()),
		PadsInUse:      pads,
		Observers:      len(w.observers),
		HornsTotal:     w.totals.horns,
		DestroyedTotal: w.totals.destroyed,
		ShadowsTotal:   w.totals.shadows,
		StepMS:         stepMS,
	})
}
