package peds

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/roadnet"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
)

type fakeLayout struct {
	walks []roadnet.Crosswalk
	walk  bool
}

func (l *fakeLayout) Crosswalks() []roadnet.Crosswalk { return l.walks }
func (l *fakeLayout) WalkSignal(uint32, int, int) bool { return l.walk }
func (l *fakeLayout) NumRoads() int { return 3 }

func newTestCrossings(t *testing.T, walk bool) (*Crossings, *fakeLayout) {
	t.Helper()
	l := &fakeLayout{
		walk: walk,
		walks: []roadnet.Crosswalk{
			{City: 0, Isec: 0, Road: 1, Dim: 0, A: geom.V(0, 0, 0), B: geom.V(0, 8, 0)},
			{City: 0, Isec: 0, Road: 2, Dim: 1, A: geom.V(0, 8, 0), B: geom.V(8, 8, 0)},
		},
	}
	tu := tuning.Defaults()
	tu.Seed = 3
	tu.Pedestrian = tuning.PedestrianTuning{PerCity: 3, Speed: 1, Radius: 0.4}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(tu, l, log), l
}

func countPeds(snap traffic.PedsByRoad) int {
	n := 0
	for _, roads := range snap {
		for _, peds := range roads {
			n += len(peds)
		}
	}
	return n
}

func TestPedsWaitForWalkSignal(t *testing.T) {
	x, _ := newTestCrossings(t, false)
	x.Advance(10, nil)
	if x.NumCrossing() != 0 {
		t.Fatalf("crossing against the signal: %d", x.NumCrossing())
	}
	var snap traffic.PedsByRoad
	x.PedsCrossingRoads(&snap)
	if len(snap) != 1 || len(snap[0]) != 3 || countPeds(snap) != 0 {
		t.Fatalf("snapshot shape %d/%d with %d peds", len(snap), len(snap[0]), countPeds(snap))
	}
}

func TestPedsCrossAndFinish(t *testing.T) {
	x, l := newTestCrossings(t, true)
	x.Advance(10, nil)
	if x.NumCrossing() != 3 {
		t.Fatalf("crossing: got %d want 3", x.NumCrossing())
	}
	x.Advance(2, nil)
	for _, p := range x.Peds() {
		if math.Abs(p.T-0.25) > 1e-9 {
			t.Fatalf("ped %d progress %v", p.ID, p.T)
		}
	}
	var snap traffic.PedsByRoad
	x.PedsCrossingRoads(&snap)
	if countPeds(snap) != 3 {
		t.Fatalf("snapshot peds: %d", countPeds(snap))
	}
	for r, peds := range snap[0] {
		for _, p := range peds {
			w := l.walks[0]
			if r == 2 {
				w = l.walks[1]
			}
			if !geom.CubeFromPoint(w.A).Union(geom.CubeFromPoint(w.B)).ContainsPtXY(p.Pos) || p.Radius != 0.4 {
				t.Fatalf("ped %+v off road %d", p, r)
			}
		}
	}

	// started crossings finish even when the signal changes
	l.walk = false
	x.Advance(7, nil)
	if x.NumCrossing() != 0 {
		t.Fatalf("still crossing: %d", x.NumCrossing())
	}
	x.PedsCrossingRoads(&snap)
	if countPeds(snap) != 0 {
		t.Fatalf("stale peds in reused snapshot: %d", countPeds(snap))
	}
}

func TestPedsYieldToNearbyCars(t *testing.T) {
	x, _ := newTestCrossings(t, true)
	car := traffic.Car{CurRoad: 1, Dim: 0, Dir: true, MaxSpeed: 1, BCube: geom.NewCube(1, 5.4, 3, 5, 0, 1.5)}
	carCars := []traffic.CityCars{{}}
	carCars[0].Moving[0][1] = []traffic.Car{car}

	// only the road-1 crosswalk is blocked
	x.Advance(10, carCars)
	for _, p := range x.Peds() {
		if p.Crossing && p.Walk == 0 {
			t.Fatalf("ped %d crossed in front of a car", p.ID)
		}
		if !p.Crossing && p.Walk == 1 {
			t.Fatalf("ped %d should have crossed the free road", p.ID)
		}
	}
}

func TestRestoreDropsUnknownCrosswalks(t *testing.T) {
	x, _ := newTestCrossings(t, false)
	x.Restore([]Ped{{Walk: 1, T: 0.5, Crossing: true}, {Walk: 9}, {Walk: 0, Wait: 2}})
	peds := x.Peds()
	if len(peds) != 2 {
		t.Fatalf("restored %d peds, want 2", len(peds))
	}
	if peds[0].ID != 0 || peds[1].ID != 1 || peds[1].Walk != 0 {
		t.Fatalf("unexpected peds: %+v", peds)
	}
	if x.NumCrossing() != 1 {
		t.Fatalf("crossing: %d", x.NumCrossing())
	}
}
