package world

import (
	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
)

// effects counts the fire-and-forget events the traffic core raises during a
// tick. There is no audio or renderer behind it; the counts feed logs and metrics.
type effects struct {
	horns     int
	destroyed int
	shadows   int
}

func (e *effects) Horn(geom.Vec3) { e.horns++ }

func (e *effects) CarDestroyed(*traffic.Car) { e.destroyed++ }

func (e *effects) InvalidateShadowAt(_ geom.Vec3, _ float64, repeatNextFrame bool) {
	e.shadows++
	if repeatNextFrame {
		e.shadows++
	}
}

func (e *effects) drain() (horns, destroyed, shadows int) {
	horns, destroyed, shadows = e.horns, e.destroyed, e.shadows
	e.horns, e.destroyed, e.shadows = 0, 0, 0
	return
}

type heliMark struct {
	state traffic.HeliState
	pad   int
}

func (w *World) markHelicopters() {
	hs := w.traffic.Helicopters()
	w.heliPrev = w.heliPrev[:0]
	for _, h := range hs {
		w.heliPrev = append(w.heliPrev, heliMark{state: h.State, pad: h.DestPad})
	}
}

// flightEvents compares helicopter states against the previous tick.
func (w *World) flightEvents() []FlightEvent {
	var out []FlightEvent
	for i, h := range w.traffic.Helicopters() {
		if i >= len(w.heliPrev) {
			break
		}
		prev := w.heliPrev[i]
		switch {
		case prev.state == traffic.HeliWaiting && h.State == traffic.HeliTakeoff:
			out = append(out, FlightEvent{Heli: i, Kind: FlightTakeoff, FromPad: prev.pad, ToPad: h.DestPad})
		case prev.state != traffic.HeliWaiting && h.State == traffic.HeliWaiting:
			out = append(out, FlightEvent{Heli: i, Kind: FlightLanded, FromPad: -1, ToPad: h.DestPad})
		}
	}
	w.markHelicopters()
	return out
}
