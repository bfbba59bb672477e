package traffic

import (
	"math"
	"sort"

	"citytraffic.ai/internal/sim/geom"
)

// findNextCarAfterTurn finds the car ahead of car i on the road its
// intersection leads to, which sorted adjacency cannot see once a turn
// changes the travel axis or the road. It updates the car-ahead table and
// returns the index of a newly found car, or -1.
//
// The scan along the destination road stops as soon as distances start to
// grow. That assumes candidates are ordered roughly by distance from the
// car; it is a heuristic, not a guarantee.
func (m *Manager) findNextCarAfterTurn(i int) int {
	c := &m.cars[i]
	if c.TurnDir == TurnNone && !m.roads.IsGlobalConnector(c) {
		// going straight inside a city: sorted order already found the car ahead
		return -1
	}
	destOrient := m.roads.DestOrient(c)
	exit, ok := m.roads.Exit(c, destOrient)
	if !ok {
		return -1
	}
	center := c.Center()
	dmin := c.LookaheadDist(m.cfg.Traffic.RoadWidth)
	dminSq := dmin * dmin

	if k, ok := m.ahead.get(i); ok && m.cars[k].Orient() != destOrient {
		m.ahead[i] = -1
	}
	if k, ok := m.ahead.get(i); ok && c.TurnDir == TurnNone {
		// straight through a connector intersection: the road id can change
		// inside it, so keep the sorted-order candidate if it is closer
		dminSq = math.Min(dminSq, geom.DistSq(center, m.cars[k].Center()))
	}
	ret := -1

	for b := 0; b+1 < len(m.blocks); b++ {
		cb := m.blocks[b]
		if cb.City != exit.City {
			continue
		}
		moving := m.cars[cb.Start:cb.FirstParked]
		first := sort.Search(len(moving), func(x int) bool { return moving[x].CurRoad >= exit.Road })
		prevDistSq := math.MaxFloat64

		for j := cb.Start + first; j < cb.FirstParked; j++ {
			if j == i {
				continue
			}
			o := &m.cars[j]
			if o.CurRoad != exit.Road {
				break
			}
			if o.OnRoadSegment() {
				if o.CurSeg != exit.Seg {
					continue
				}
			} else if o.RoadType != c.RoadType || o.CurSeg != c.CurSeg {
				// a different intersection on the same road
				continue
			}
			if o.Orient() != destOrient {
				continue
			}
			distSq := geom.DistSq(center, o.Center())
			if geom.DistSq(center, o.Front(0.5)) < distSq {
				// already passed us, e.g. waiting on the far side
				continue
			}
			if distSq < dminSq {
				if j != m.ahead[i] {
					ret = j
				}
				m.ahead[i] = j
				dminSq = distSq
			} else if distSq > prevDistSq {
				break
			}
			prevDistSq = distSq
		}
	}
	return ret
}
