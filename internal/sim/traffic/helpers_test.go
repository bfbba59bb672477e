package traffic

import (
	"io"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/tuning"
)

func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Seed = 7
	return t
}

func testEnv(cfg *tuning.TrafficTuning) *Env {
	return &Env{Cfg: cfg, Fticks: 1}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// makeCar builds a default-size car centered at (cx, cy) travelling along dim.
func makeCar(cx, cy float64, dim int, dir bool) Car {
	tr := tuning.Defaults().Traffic
	size := geom.V(tr.CarLength, tr.CarWidth, tr.CarHeight)
	if dim == 1 {
		size[0], size[1] = size[1], size[0]
	}
	c := Car{Dim: dim, Dir: dir, MaxSpeed: 1, Height: tr.CarHeight, DestValid: true}
	c.BCube = geom.NewCube(cx-size[0]/2, cx+size[0]/2, cy-size[1]/2, cy+size[1]/2, 0, size[2])
	c.PrevBCube = c.BCube
	return c
}

func parkedCar(cx, cy float64, city, lot uint32) Car {
	c := makeCar(cx, cy, 0, true)
	c.Park()
	c.CurCity = city
	c.CurRoad = lot
	c.RoadType = RoadParking
	return c
}

// fakeRoads is a road graph and updater with fixed answers. Its updater
// leaves speeds alone so tests see only the core's effect.
type fakeRoads struct {
	bounds     geom.Cube
	blocked    [][2]int
	registered int
	updated    int
	destOrient int
	exit       IsecExit
	exitOK     bool
	globalConn bool
}

func newFakeRoads() *fakeRoads { return &fakeRoads{destOrient: -1} }

func (f *fakeRoads) SegmentBounds(c *Car) geom.Cube {
	if f.bounds.IsAllZeros() {
		return c.BCube.ExpandByXY(1e6)
	}
	return f.bounds
}

func (f *fakeRoads) IsGlobalConnector(*Car) bool { return f.globalConn }

func (f *fakeRoads) DestOrient(c *Car) int {
	if f.destOrient < 0 {
		return c.Orient()
	}
	return f.destOrient
}

func (f *fakeRoads) Exit(*Car, int) (IsecExit, bool) { return f.exit, f.exitOK }

func (f *fakeRoads) MarkIsecBlocked(c *Car) {
	f.blocked = append(f.blocked, [2]int{c.Dim, b2i(c.Dir)})
}

func (f *fakeRoads) RegisterCar(*Car) { f.registered++ }
func (f *fakeRoads) UpdateCar(*Frame, int) { f.updated++ }

type fakeEffects struct {
	horns     int
	destroyed int
}

func (f *fakeEffects) Horn(geom.Vec3) { f.horns++ }
func (f *fakeEffects) CarDestroyed(*Car) { f.destroyed++ }

type fakeShadows struct {
	calls []geom.Vec3
}

func (f *fakeShadows) InvalidateShadowAt(pos geom.Vec3, _ float64, _ bool) {
	f.calls = append(f.calls, pos)
}

func newTestManager(roads *fakeRoads, cars ...Car) *Manager {
	m := NewManager(testTuning(), Collaborators{Roads: roads, Updater: roads}, quietLogger())
	m.cars = append(m.cars, cars...)
	m.rebuildBlocks()
	return m
}

// indexByColor finds a car by the ColorID tests use as a tag.
func indexByColor(m *Manager, tag uint8) int {
	for i := range m.cars {
		if m.cars[i].ColorID == tag {
			return i
		}
	}
	return -1
}
