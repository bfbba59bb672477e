package traffic

import (
	"math"
	"testing"

	"citytraffic.ai/internal/sim/geom"
)

func assertPartition(t *testing.T, m *Manager) {
	t.Helper()
	blocks := m.Blocks()
	if len(blocks) == 0 {
		t.Fatalf("no terminator")
	}
	term := blocks[len(blocks)-1]
	if term.Start != len(m.cars) || term.FirstParked != len(m.cars) || term.City != 0 {
		t.Fatalf("bad terminator %+v for %d cars", term, len(m.cars))
	}
	next := 0
	seen := map[uint32]bool{}
	for b := 0; b+1 < len(blocks); b++ {
		cb := blocks[b]
		if cb.Start != next {
			t.Fatalf("block %d starts at %d, want %d", b, cb.Start, next)
		}
		if seen[cb.City] {
			t.Fatalf("city %d split over blocks", cb.City)
		}
		seen[cb.City] = true
		end := blocks[b+1].Start
		if cb.FirstParked < cb.Start || cb.FirstParked > end {
			t.Fatalf("block %d first parked %d outside [%d,%d]", b, cb.FirstParked, cb.Start, end)
		}
		for i := cb.Start; i < end; i++ {
			c := &m.cars[i]
			if c.CurCity != cb.City {
				t.Fatalf("car %d city %d in block of city %d", i, c.CurCity, cb.City)
			}
			if c.IsParked() != (i >= cb.FirstParked) {
				t.Fatalf("car %d parked=%v on wrong side of %d", i, c.IsParked(), cb.FirstParked)
			}
		}
		next = end
	}
	if next != len(m.cars) {
		t.Fatalf("blocks cover %d of %d cars", next, len(m.cars))
	}
}

func mixedCars() []Car {
	a := makeCar(0, 0, 0, true)
	a.CurCity = 1
	b := makeCar(30, 0, 0, true)
	b.CurCity = 1
	b.CurRoad = 2
	c := makeCar(0, 50, 1, false)
	conn := makeCar(500, 0, 0, true)
	conn.CurCity = ConnectorCity
	conn.RoadType = RoadConnector
	garage := parkedCar(40, 40, NoCity, 0)
	garage.RoadType = RoadBuilding
	return []Car{
		parkedCar(10, 10, 0, 1),
		a, garage,
		parkedCar(20, 10, 1, 0),
		conn, b,
		parkedCar(12, 10, 0, 0),
		c,
	}
}

func TestRebuildBlocks_PartitionsEveryCar(t *testing.T) {
	m := newTestManager(newFakeRoads(), mixedCars()...)
	assertPartition(t, m)
	if got := len(m.Blocks()); got != 5 {
		t.Fatalf("blocks: got %d want 4 cities + terminator", got)
	}
	if m.Blocks()[2].City != ConnectorCity || m.Blocks()[3].City != NoCity {
		t.Fatalf("connector and garage cars should sort last: %+v", m.Blocks())
	}
	for b := 0; b+1 < len(m.Blocks()); b++ {
		bc := m.BlockBounds(b)
		m.CarsInBlock(b, false, func(i int, c *Car) bool {
			if !bc.ContainsCube(c.BCube) {
				t.Fatalf("block %d bounds miss car %d", b, i)
			}
			return true
		})
	}
}

func TestRebuildBlocks_EmptyHasOnlyTerminator(t *testing.T) {
	m := newTestManager(newFakeRoads())
	if got := m.Blocks(); len(got) != 1 || got[0] != (CarBlock{}) {
		t.Fatalf("got %+v", got)
	}
}

func TestBlockRange_PanicsOutOfRange(t *testing.T) {
	m := newTestManager(newFakeRoads(), makeCar(0, 0, 0, true))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	m.BlockRange(1, false)
}

func TestSortCars_ParkedBackToFrontFromCamera(t *testing.T) {
	m := newTestManager(newFakeRoads())
	near := parkedCar(5, 0, 0, 3)
	near.ColorID = 1
	far := parkedCar(50, 0, 0, 3)
	far.ColorID = 2
	m.cars = []Car{near, far}
	m.SetCamera(geom.V(0, 0, 10), geom.V(1, 0, 0))
	m.rebuildBlocks()
	if m.cars[0].ColorID != 2 {
		t.Fatalf("far parked car should come first")
	}
}

func TestNextFrame_KeepsPartitionAndCompactsDestroyed(t *testing.T) {
	m := newTestManager(newFakeRoads(), mixedCars()...)
	fx := &fakeEffects{}
	m.fx = fx
	n := m.NumCars()
	if got := m.DestroyCarsInRadius(geom.V(30, 0, 0.5), 0); got != 1 {
		t.Fatalf("destroyed %d", got)
	}
	if fx.destroyed != 1 {
		t.Fatalf("destroy effect not fired")
	}
	if m.NumCars() != n {
		t.Fatalf("destroyed cars must stay until the next frame")
	}
	st := m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 1})
	if st.Removed != 1 || m.NumCars() != n-1 {
		t.Fatalf("removed=%d cars=%d", st.Removed, m.NumCars())
	}
	for i := range m.cars {
		if m.cars[i].Destroyed {
			t.Fatalf("destroyed car %d survived compaction", i)
		}
	}
	assertPartition(t, m)
	if st.Moving+st.Parked != m.NumCars() {
		t.Fatalf("moving %d + parked %d != %d", st.Moving, st.Parked, m.NumCars())
	}
}

func TestNextFrame_PausedDoesNothing(t *testing.T) {
	roads := newFakeRoads()
	c := makeCar(0, 0, 0, true)
	c.CurSpeed = 1
	m := newTestManager(roads, c)
	m.SetAnimating(false)
	m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 1})
	if m.Frame() != 0 || m.cars[0].BCube != c.BCube || roads.updated != 0 {
		t.Fatalf("paused frame changed state")
	}
}

func TestNextFrame_SeparatesQueuedCars(t *testing.T) {
	roads := newFakeRoads()
	rear, front := rearAndFront()
	rear.ColorID, front.ColorID = 1, 2
	m := newTestManager(roads, front, rear)

	st := m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 1})
	if st.Separated != 1 {
		t.Fatalf("separated %d", st.Separated)
	}
	r, f := &m.cars[indexByColor(m, 1)], &m.cars[indexByColor(m, 2)]
	if gap := f.BCube.X1() - r.BCube.X2(); gap < MinSeparation(r, f, false, &m.cfg.Traffic)-1e-9 {
		t.Fatalf("gap %v too small", gap)
	}
	if roads.updated != 2 || roads.registered != 2 {
		t.Fatalf("updated=%d registered=%d", roads.updated, roads.registered)
	}
}

func TestNextFrame_MarksIntersectionBlockedByAlmostStoppedCar(t *testing.T) {
	roads := newFakeRoads()
	slow := makeCar(0, 0, 1, false)
	slow.RoadType = RoadIntersection
	slow.CurSpeed = 0.05
	atLight := makeCar(100, 0, 0, true)
	atLight.RoadType = RoadIntersection
	atLight.CurRoad = 1
	atLight.StoppedAtLight = true
	fast := makeCar(200, 0, 0, true)
	fast.RoadType = RoadIntersection
	fast.CurRoad = 2
	fast.CurSpeed = 0.9
	m := newTestManager(roads, slow, atLight, fast)

	st := m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 1})
	if st.BlockedIsecs != 1 || len(roads.blocked) != 1 {
		t.Fatalf("blocked: %d %v", st.BlockedIsecs, roads.blocked)
	}
	if roads.blocked[0] != [2]int{1, 0} {
		t.Fatalf("wrong dim/dir marked: %v", roads.blocked[0])
	}
}

func TestNextFrame_CarAheadChain(t *testing.T) {
	roads := newFakeRoads()
	var cars []Car
	for k := 0; k < 3; k++ {
		c := makeCar(float64(7*k), 0, 0, true)
		c.ColorID = uint8(k + 1)
		cars = append(cars, c)
	}
	m := newTestManager(roads, cars...)
	m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 1})

	first, second, third := indexByColor(m, 1), indexByColor(m, 2), indexByColor(m, 3)
	if k, ok := m.CarAhead(first); !ok || k != second {
		t.Fatalf("car ahead of first: %d %v", k, ok)
	}
	if k, ok := m.CarAhead(second); !ok || k != third {
		t.Fatalf("car ahead of second: %d %v", k, ok)
	}
	if _, ok := m.CarAhead(third); ok {
		t.Fatalf("lead car has a car ahead")
	}
	if got := m.CountCarsInFront(first, geom.Cube{}); got != 2 {
		t.Fatalf("cars in front: %d", got)
	}
	area := geom.NewCube(-100, 100, -100, 100, -1, 10)
	want := 3 * m.cfg.Traffic.CarLength * (1 + m.cfg.Traffic.MinStopSep)
	if got := m.SumLenSpaceInFront(first, area); math.Abs(got-want) > 1e-9 {
		t.Fatalf("queue length: got %v want %v", got, want)
	}
	small := geom.NewCube(-100, 10, -100, 100, -1, 10)
	want = 2 * m.cfg.Traffic.CarLength * (1 + m.cfg.Traffic.MinStopSep)
	if got := m.SumLenSpaceInFront(first, small); math.Abs(got-want) > 1e-9 {
		t.Fatalf("clipped queue length: got %v want %v", got, want)
	}
}

func TestMaybeAccelerate_BrakesInsideFollowingDistance(t *testing.T) {
	roads := newFakeRoads()
	rear := makeCar(0, 0, 0, true)
	rear.CurSpeed, rear.ColorID = 0.5, 1
	front := makeCar(7, 0, 0, true)
	front.CurSpeed, front.ColorID = 0.5, 2
	m := newTestManager(roads, rear, front)
	m.env.Fticks = 1
	m.ahead = m.ahead.reset(2)
	i, j := indexByColor(m, 1), indexByColor(m, 2)
	m.registerAdjacent(i, j)

	m.maybeAccelerate(i)
	if got := m.cars[i].CurSpeed; got >= 0.5 {
		t.Fatalf("rear car should slow down, speed %v", got)
	}
	m.maybeAccelerate(j)
	if got := m.cars[j].CurSpeed; got <= 0.5 {
		t.Fatalf("lead car should speed up, speed %v", got)
	}
}

func TestExportRestore_RebuildsIndex(t *testing.T) {
	m := newTestManager(newFakeRoads(), mixedCars()...)
	m.NextFrame(FrameInput{CarSpeed: 1, Fticks: 2})
	s := m.Export()

	m2 := newTestManager(newFakeRoads())
	m2.Restore(s)
	if m2.Frame() != m.Frame() || m2.Elapsed() != m.Elapsed() || m2.NumCars() != m.NumCars() {
		t.Fatalf("restored frame=%d elapsed=%v cars=%d", m2.Frame(), m2.Elapsed(), m2.NumCars())
	}
	assertPartition(t, m2)
	s.Cars[0].CurSpeed = 123
	if m2.cars[0].CurSpeed == 123 {
		t.Fatalf("restore aliases the exported slice")
	}
}
