// Package peds walks pedestrians across the crosswalks of the road network
// and publishes who is on the road for the traffic core.
package peds

import (
	"math/rand/v2"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/roadnet"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
)

// Layout is what pedestrians need from the road network.
type Layout interface {
	Crosswalks() []roadnet.Crosswalk
	WalkSignal(city uint32, isec int, dim int) bool
	NumRoads() int
}

// Ped is one pedestrian. Between crossings it waits at the curb of its
// current crosswalk.
type Ped struct {
	ID       int
	Walk     int
	T        float64
	Forward  bool
	Crossing bool
	Wait     float64
}

// Crossings is not safe for concurrent use.
type Crossings struct {
	cfg       tuning.PedestrianTuning
	carLength float64
	layout    Layout
	log       logrus.FieldLogger
	rng       *rand.Rand

	walks     []roadnet.Crosswalk
	byIsec    map[isecKey][]int
	numCities int
	numRoads  int

	peds []Ped
}

type isecKey struct {
	city uint32
	isec int
}

const (
	minCurbWait = 1.0
	maxCurbWait = 6.0
)

func New(t tuning.Tuning, layout Layout, logger logrus.FieldLogger) *Crossings {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	x := &Crossings{
		cfg:       t.Pedestrian,
		carLength: t.Traffic.CarLength,
		layout:    layout,
		log:       logger.WithField("component", "peds"),
		rng:       rand.New(rand.NewPCG(uint64(t.Seed), 0x2545f4914f6cdd1d)),
		walks:     layout.Crosswalks(),
		byIsec:    map[isecKey][]int{},
		numRoads:  layout.NumRoads(),
	}
	byCity := map[uint32][]int{}
	for k, w := range x.walks {
		key := isecKey{w.City, w.Isec}
		x.byIsec[key] = append(x.byIsec[key], k)
		byCity[w.City] = append(byCity[w.City], k)
		x.numCities = max(x.numCities, int(w.City)+1)
	}
	for city := 0; city < x.numCities; city++ {
		walks := byCity[uint32(city)]
		if len(walks) == 0 {
			continue
		}
		for n := 0; n < t.Pedestrian.PerCity; n++ {
			x.peds = append(x.peds, Ped{
				ID:      len(x.peds),
				Walk:    walks[x.rng.IntN(len(walks))],
				Forward: x.rng.IntN(2) == 0,
				Wait:    maxCurbWait * x.rng.Float64(),
			})
		}
	}
	x.log.WithFields(logrus.Fields{"crosswalks": len(x.walks), "peds": len(x.peds)}).Info("pedestrians placed")
	return x
}

// Advance walks every pedestrian by dt seconds. A pedestrian starts crossing
// on the walk signal when no moving car is close to the crosswalk, and once
// started always finishes. cars may be nil.
func (x *Crossings) Advance(dt float64, cars []traffic.CityCars) {
	for k := range x.peds {
		p := &x.peds[k]
		w := &x.walks[p.Walk]
		if p.Crossing {
			p.T += x.cfg.Speed * dt / geom.Dist(w.A, w.B)
			if p.T >= 1 {
				x.arrive(p)
			}
			continue
		}
		p.Wait -= dt
		if p.Wait > 0 || !x.layout.WalkSignal(w.City, w.Isec, w.Dim) || x.carNear(w, cars) {
			continue
		}
		p.Crossing = true
		p.T = 0
	}
}

// arrive ends a crossing and picks the next crosswalk at the same
// intersection, starting from the curb the pedestrian stands on.
func (x *Crossings) arrive(p *Ped) {
	w := x.walks[p.Walk]
	end := w.B
	if !p.Forward {
		end = w.A
	}
	p.Crossing = false
	p.T = 0
	p.Wait = minCurbWait + (maxCurbWait-minCurbWait)*x.rng.Float64()

	opts := x.byIsec[isecKey{w.City, w.Isec}]
	next := opts[x.rng.IntN(len(opts))]
	nw := x.walks[next]
	p.Walk = next
	p.Forward = geom.DistSq(end, nw.A) <= geom.DistSq(end, nw.B)
}

func (x *Crossings) carNear(w *roadnet.Crosswalk, cars []traffic.CityCars) bool {
	if int(w.City) >= len(cars) {
		return false
	}
	margin := 2 * x.carLength
	for _, lane := range cars[w.City].Moving[w.Dim] {
		for k := range lane {
			c := &lane[k]
			if c.CurRoad == w.Road && c.BCube.ExpandByXY(margin).LineIntersects(w.A, w.B) {
				return true
			}
		}
	}
	return false
}

// Pos is where p currently stands.
func (x *Crossings) Pos(p Ped) geom.Vec3 {
	w := x.walks[p.Walk]
	a, b := w.A, w.B
	if !p.Forward {
		a, b = b, a
	}
	return a.Lerp(b, geom.Clamp01(p.T))
}

func (x *Crossings) Peds() []Ped { return x.peds }

// Restore replaces the pedestrians, e.g. from a snapshot. Peds on unknown
// crosswalks are dropped.
func (x *Crossings) Restore(peds []Ped) {
	x.peds = x.peds[:0]
	for _, p := range peds {
		if p.Walk < 0 || p.Walk >= len(x.walks) {
			continue
		}
		p.ID = len(x.peds)
		x.peds = append(x.peds, p)
	}
}

func (x *Crossings) Crosswalks() []roadnet.Crosswalk { return x.walks }

// NumCrossing counts pedestrians currently on the road.
func (x *Crossings) NumCrossing() int {
	return lo.CountBy(x.peds, func(p Ped) bool { return p.Crossing })
}

// PedsCrossingRoads fills dst, indexed by city then road, with the
// pedestrians on the road right now. dst's slices are reused.
func (x *Crossings) PedsCrossingRoads(dst *traffic.PedsByRoad) {
	out := *dst
	for len(out) < x.numCities {
		out = append(out, nil)
	}
	out = out[:x.numCities]
	for c := range out {
		for len(out[c]) < x.numRoads {
			out[c] = append(out[c], nil)
		}
		out[c] = out[c][:x.numRoads]
		for r := range out[c] {
			out[c][r] = out[c][r][:0]
		}
	}
	for _, p := range x.peds {
		if !p.Crossing {
			continue
		}
		w := &x.walks[p.Walk]
		out[w.City][w.Road] = append(out[w.City][w.Road], traffic.Ped{Pos: x.Pos(p), Radius: x.cfg.Radius})
	}
	*dst = out
}
