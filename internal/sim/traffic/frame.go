package traffic

import (
	"math/rand/v2"

	"citytraffic.ai/internal/sim/geom"
)

// Frame is the view of the running frame that road logic gets. It is only
// valid inside RoadUpdater.UpdateCar.
type Frame struct {
	m *Manager
}

func (f *Frame) Car(i int) *Car { return &f.m.cars[i] }
func (f *Frame) Env() *Env { return &f.m.env }
func (f *Frame) Rand() *rand.Rand { return f.m.rng }
func (f *Frame) NumCars() int { return len(f.m.cars) }
func (f *Frame) Ahead(i int) (int, bool) { return f.m.ahead.get(i) }

func (f *Frame) MaybeAccelerate(i int) { f.m.maybeAccelerate(i) }

func (f *Frame) CountCarsInFront(i int, rng geom.Cube) int { return f.m.CountCarsInFront(i, rng) }

func (f *Frame) SumLenSpaceInFront(i int, rng geom.Cube) float64 {
	return f.m.SumLenSpaceInFront(i, rng)
}

// OnAlternateTurnDir is called when a car picks a different turn than the
// slow car that was in front of it. A quarter of the time the car also drops
// its destination.
func (f *Frame) OnAlternateTurnDir(i int) {
	c := &f.m.cars[i]
	f.m.honkIfClose(c)
	if f.m.rng.IntN(4) == 0 {
		c.DestValid = false
	}
}

func (f *Frame) HonkIfClose(i int) { f.m.honkIfClose(&f.m.cars[i]) }
