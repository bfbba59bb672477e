package traffic

import (
	"math"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/tuning"
)

// MinSeparation is the gap required between the back of the leading car and
// the front of the following one. It grows with the slower car's speed,
// floored at 10% of a's max speed, and optionally adds one car length.
func MinSeparation(a, b *Car, addOneLength bool, cfg *tuning.TrafficTuning) float64 {
	avgLen := 0.5 * (a.Length() + b.Length())
	minSpeed := math.Max(0, math.Min(a.CurSpeed, b.CurSpeed)-0.1*a.MaxSpeed)
	oneLen := 0.0
	if addOneLength {
		oneLen = 1
	}
	return avgLen * (cfg.MinStopSep + cfg.SpeedSepCoeff*math.Min(minSpeed, 1) + oneLen)
}

// aheadTable maps a car index to the index of the car ahead of it in the
// current frame, or -1. It is rebuilt from scratch every frame and is never
// persisted.
type aheadTable []int

func (t aheadTable) reset(n int) aheadTable {
	if cap(t) < n {
		t = make(aheadTable, n)
	}
	t = t[:n]
	for i := range t {
		t[i] = -1
	}
	return t
}

func (t aheadTable) get(i int) (int, bool) {
	if i < 0 || i >= len(t) || t[i] < 0 {
		return -1, false
	}
	return t[i], true
}

// lookaheadCube is the box from c's front extending one lookahead distance forward.
func lookaheadCube(c *Car, roadWidth float64) geom.Cube {
	cube := c.BCube
	d := b2i(c.Dir)
	cube[c.Dim][1-d] = cube[c.Dim][d]
	cube[c.Dim][d] += dirSign(c.Dir) * c.LookaheadDist(roadWidth)
	return cube
}

// registerAdjacent makes j the car ahead of i when j is inside i's lookahead
// box and closer than the current one.
func (m *Manager) registerAdjacent(i, j int) {
	c, o := &m.cars[i], &m.cars[j]
	if k, ok := m.ahead.get(i); ok {
		center := c.Center()
		if geom.DistXYSq(center, o.Center()) > geom.DistXYSq(center, m.cars[k].Center()) {
			return
		}
	}
	if lookaheadCube(c, m.cfg.Traffic.RoadWidth).IntersectsXYNoAdj(o.BCube) {
		m.ahead[i] = j
	}
}

// maybeAccelerate slows car i when it is inside the following distance of
// the car ahead, and speeds it up otherwise. Overlapping cars are left to the
// collision pass.
func (m *Manager) maybeAccelerate(i int) {
	c := &m.cars[i]
	if k, ok := m.ahead.get(i); ok {
		o := &m.cars[k]
		distSq := geom.DistXYSq(c.Center(), o.Center())
		length := c.Length()
		if distSq > length*length {
			dmin := MinSeparation(c, o, true, &m.cfg.Traffic)
			if distSq < dmin*dmin {
				c.Decelerate(&m.env)
				return
			}
		}
	}
	c.Accelerate(&m.env)
}

// CountCarsInFront walks the car-ahead chain of car i, counting cars not
// travelling the opposite way. A non-zero rng stops the walk at the first car
// outside it. The walk is capped by traffic.max_cars_in_front_scan.
func (m *Manager) CountCarsInFront(i int, rng geom.Cube) int {
	if i < 0 || i >= len(m.cars) {
		return 0
	}
	c := &m.cars[i]
	num, cur := 0, i
	for n := 0; n < m.cfg.Traffic.MaxCarsInFrontScan; n++ {
		next, ok := m.ahead.get(cur)
		if !ok {
			break
		}
		cur = next
		o := &m.cars[cur]
		if !rng.IsAllZeros() && !rng.ContainsPtXY(o.Center()) {
			break
		}
		if o.Dim != c.Dim || o.Dir == c.Dir {
			num++
		}
	}
	return num
}

// SumLenSpaceInFront is the road length the queue starting at car i needs
// inside rng, including stopping gaps. The walk is capped by
// traffic.max_queue_scan to survive cyclic chains.
func (m *Manager) SumLenSpaceInFront(i int, rng geom.Cube) float64 {
	if i < 0 || i >= len(m.cars) {
		return 0
	}
	c := &m.cars[i]
	length, cur := 0.0, i
	for n := 0; n < m.cfg.Traffic.MaxQueueScan; n++ {
		o := &m.cars[cur]
		if o.Dim != c.Dim || o.Dir == c.Dir {
			length += o.Length()
		}
		next, ok := m.ahead.get(cur)
		if !ok || !rng.ContainsPtXY(m.cars[next].Center()) {
			break
		}
		cur = next
	}
	return length * (1 + m.cfg.Traffic.MinStopSep)
}
