package traffic

import (
	"math"
	"testing"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/tuning"
)

func hugeBounds(c *Car) geom.Cube { return c.BCube.ExpandByXY(1e6) }

func TestMinSeparation(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	a := makeCar(0, 0, 0, true)
	b := makeCar(10, 0, 0, true)
	if got, want := MinSeparation(&a, &b, false, &cfg), cfg.CarLength*cfg.MinStopSep; math.Abs(got-want) > 1e-9 {
		t.Fatalf("stopped: got %v want %v", got, want)
	}
	if got, want := MinSeparation(&a, &b, true, &cfg), cfg.CarLength*(cfg.MinStopSep+1); math.Abs(got-want) > 1e-9 {
		t.Fatalf("plus one length: got %v want %v", got, want)
	}
	a.CurSpeed, b.CurSpeed = 0.6, 0.9
	want := cfg.CarLength * (cfg.MinStopSep + cfg.SpeedSepCoeff*0.5)
	if got := MinSeparation(&a, &b, false, &cfg); math.Abs(got-want) > 1e-9 {
		t.Fatalf("moving: got %v want %v", got, want)
	}
	a.CurSpeed, b.CurSpeed = 3, 3
	want = cfg.CarLength * (cfg.MinStopSep + cfg.SpeedSepCoeff)
	if got := MinSeparation(&a, &b, false, &cfg); math.Abs(got-want) > 1e-9 {
		t.Fatalf("speed term not capped: got %v want %v", got, want)
	}
}

// rearAndFront returns two stopped eastbound cars 0.1 apart.
func rearAndFront() (Car, Car) {
	rear := makeCar(8.2, 0, 0, true)   // x in [6, 10.4]
	front := makeCar(12.7, 0, 0, true) // x in [10.5, 14.9]
	return rear, front
}

func TestResolve_PushesRearCarBackToMinSeparation(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	env := testEnv(&cfg)
	rear, front := rearAndFront()
	frontBefore := front.BCube

	res, moved := ResolveCollision(&rear, &front, hugeBounds, env)
	if res != ResolveSeparated || moved != &rear {
		t.Fatalf("got %s moved=%p want separated rear", res, moved)
	}
	if front.BCube != frontBefore {
		t.Fatalf("front car moved: %v", front.BCube)
	}
	sep := MinSeparation(&rear, &front, false, &cfg)
	if gap := front.BCube.X1() - rear.BCube.X2(); math.Abs(gap-sep) > 1e-9 {
		t.Fatalf("gap: got %v want %v", gap, sep)
	}
	if rear.CurSpeed != 0 {
		t.Fatalf("rear speed %v", rear.CurSpeed)
	}
}

func TestResolve_WestboundRearIsOnTheRight(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	env := testEnv(&cfg)
	ahead := makeCar(8.2, 0, 0, false)   // x in [6, 10.4], travelling -x
	behind := makeCar(12.7, 0, 0, false) // x in [10.5, 14.9]
	res, moved := ResolveCollision(&ahead, &behind, hugeBounds, env)
	if res != ResolveSeparated || moved != &behind {
		t.Fatalf("got %s, want the eastern car moved", res)
	}
	sep := MinSeparation(&ahead, &behind, false, &cfg)
	if gap := behind.BCube.X1() - ahead.BCube.X2(); math.Abs(gap-sep) > 1e-9 {
		t.Fatalf("gap: got %v want %v", gap, sep)
	}
}

func TestResolve_ArgumentOrderDoesNotMatter(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	r1, f1 := rearAndFront()
	r1.CurSpeed, f1.CurSpeed = 0.3, 0.2
	r2, f2 := r1, f1

	res1, _ := ResolveCollision(&r1, &f1, hugeBounds, testEnv(&cfg))
	res2, _ := ResolveCollision(&f2, &r2, hugeBounds, testEnv(&cfg))
	if res1 != res2 {
		t.Fatalf("results differ: %s vs %s", res1, res2)
	}
	if r1 != r2 || f1 != f2 {
		t.Fatalf("poses differ:\n%v\n%v\n%v\n%v", r1.BCube, r2.BCube, f1.BCube, f2.BCube)
	}
}

func TestResolve_EqualFrontsBreakTieByGeometry(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	cases := []struct {
		name      string
		long, alt func() Car
	}{
		{
			// alt is shorter, so its back edge is further ahead
			name: "back edge",
			long: func() Car { return makeCar(10, 0, 0, true) },
			alt: func() Car {
				c := makeCar(10, 0.5, 0, true)
				c.BCube[0][0] += 1
				c.PrevBCube = c.BCube
				return c
			},
		},
		{
			name: "lateral",
			long: func() Car { return makeCar(10, 0, 0, true) },
			alt:  func() Car { return makeCar(10, 0.5, 0, true) },
		},
	}
	for _, tc := range cases {
		for _, swap := range []bool{false, true} {
			rear, ahead := tc.long(), tc.alt()
			if rear.FrontPos() != ahead.FrontPos() {
				t.Fatalf("%s: fronts differ", tc.name)
			}
			aheadBefore := ahead.BCube
			var res Resolution
			var moved *Car
			if swap {
				res, moved = ResolveCollision(&ahead, &rear, hugeBounds, testEnv(&cfg))
			} else {
				res, moved = ResolveCollision(&rear, &ahead, hugeBounds, testEnv(&cfg))
			}
			if res != ResolveSeparated || moved != &rear {
				t.Fatalf("%s swap=%v: got %s, want the rear car pushed", tc.name, swap, res)
			}
			if ahead.BCube != aheadBefore {
				t.Fatalf("%s swap=%v: car ahead moved: %v", tc.name, swap, ahead.BCube)
			}
		}
	}
}

func TestResolve_OppositeDirectionsIgnored(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	a := makeCar(8.2, 0, 0, true)
	b := makeCar(9, 0, 0, false)
	if res, moved := ResolveCollision(&a, &b, hugeBounds, testEnv(&cfg)); res != ResolveNone || moved != nil {
		t.Fatalf("got %s", res)
	}
}

func TestResolve_FarApartIgnored(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	a := makeCar(0, 0, 0, true)
	b := makeCar(50, 0, 0, true)
	if res, _ := ResolveCollision(&a, &b, hugeBounds, testEnv(&cfg)); res != ResolveNone {
		t.Fatalf("got %s", res)
	}
}

func TestResolve_TBoneRevertsCarWhoseFrontHit(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	env := testEnv(&cfg)
	east := makeCar(0, 0, 0, true) // front at x=2.2
	east.CurSpeed = 1
	east.PrevBCube = east.BCube.Translate(geom.V(-1, 0, 0))
	north := makeCar(2.45, 0, 1, true) // x in [1.5, 3.4]
	north.CurSpeed = 1
	northBefore := north.BCube

	for _, swap := range []bool{false, true} {
		e, n := east, north
		var res Resolution
		var moved *Car
		if swap {
			res, moved = ResolveCollision(&n, &e, hugeBounds, env)
		} else {
			res, moved = ResolveCollision(&e, &n, hugeBounds, env)
		}
		if res != ResolveTBone || moved != &e {
			t.Fatalf("swap=%v: got %s, want eastbound car stopped", swap, res)
		}
		if e.BCube != east.PrevBCube {
			t.Fatalf("swap=%v: not reverted: %v", swap, e.BCube)
		}
		if e.FrontIntersects(&n) {
			t.Fatalf("swap=%v: reverted front still inside crossing car: %v", swap, e.BCube)
		}
		if e.CurSpeed >= east.CurSpeed {
			t.Fatalf("swap=%v: not decelerated", swap)
		}
		if n.BCube != northBefore || n.CurSpeed != north.CurSpeed {
			t.Fatalf("swap=%v: crossing car changed", swap)
		}
	}
}

func TestResolve_RevertsWhenPushWouldLeaveSegment(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	env := testEnv(&cfg)
	rear, front := rearAndFront()
	rear.PrevBCube = rear.BCube.Translate(geom.V(-0.3, 0, 0))
	seg := geom.NewCube(5.5, 30, -4, 4, -1, 10)
	bounds := func(*Car) geom.Cube { return seg }

	res, moved := ResolveCollision(&rear, &front, bounds, env)
	if res != ResolveReverted || moved != &rear {
		t.Fatalf("got %s", res)
	}
	if rear.BCube != rear.PrevBCube {
		t.Fatalf("rear not reverted: %v", rear.BCube)
	}
}

func TestResolve_ClampsToSegmentWithoutPreviousPose(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	env := testEnv(&cfg)
	rear, front := rearAndFront()
	seg := geom.NewCube(5.5, 30, -4, 4, -1, 10)
	bounds := func(*Car) geom.Cube { return seg }

	res, _ := ResolveCollision(&rear, &front, bounds, env)
	if res != ResolveClamped {
		t.Fatalf("got %s", res)
	}
	if !seg.ContainsCubeXY(rear.BCube) {
		t.Fatalf("clamped car left its segment: %v", rear.BCube)
	}
	if rear.BCube.X1() >= 6 {
		t.Fatalf("rear car not pushed back: %v", rear.BCube)
	}
}

func TestResolve_RecordsSlowerFrontCarTurn(t *testing.T) {
	cfg := tuning.Defaults().Traffic
	rear, front := rearAndFront()
	front.MaxSpeed = 0.8
	front.TurnDir = TurnRight
	ResolveCollision(&rear, &front, hugeBounds, testEnv(&cfg))
	if rear.FrontCarTurnDir != TurnRight {
		t.Fatalf("front car turn dir: got %s", rear.FrontCarTurnDir)
	}
}

func TestPedProbe(t *testing.T) {
	c := makeCar(0, 0, 0, true)
	p := PedProbe(&c)
	if p.X1() != c.BCube.X2() || math.Abs(p.X2()-(c.BCube.X2()+1.25*c.Length())) > 1e-9 {
		t.Fatalf("probe x range %v", p[0])
	}
	if math.Abs(p.Dy()-2*c.Width()) > 1e-9 {
		t.Fatalf("probe width %v", p.Dy())
	}
}

func TestPedestrianAheadStopsCar(t *testing.T) {
	roads := newFakeRoads()
	c := makeCar(0, 0, 0, true)
	c.CurSpeed = 0.5
	c.CurRoad = 2
	peds := &fixedPeds{byRoad: PedsByRoad{{nil, nil, {{Pos: geom.V(4, 0, 0), Radius: 0.4}}}}}
	m := NewManager(testTuning(), Collaborators{Roads: roads, Updater: roads, Peds: peds}, quietLogger())
	m.cars = []Car{c}
	m.rebuildBlocks()

	st := m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 1})
	if st.PedStops != 1 {
		t.Fatalf("ped stops: %d", st.PedStops)
	}
	if got := m.cars[0].CurSpeed; got >= 0.5 {
		t.Fatalf("car not slowed: %v", got)
	}
}

type fixedPeds struct{ byRoad PedsByRoad }

func (f *fixedPeds) PedsCrossingRoads(dst *PedsByRoad) { *dst = f.byRoad }
