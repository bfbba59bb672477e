package traffic

import (
	"math/rand/v2"

	"citytraffic.ai/internal/sim/geom"
)

// IsecExit is where an intersection leads for one travel orientation.
type IsecExit struct {
	City uint32
	Road uint32
	Seg  uint32
}

// RoadGraph answers road-network questions about a car's current position.
type RoadGraph interface {
	// SegmentBounds is the volume of the segment, intersection or connector
	// piece the car is on. Collision correction never pushes a car out of it.
	SegmentBounds(c *Car) geom.Cube
	// IsGlobalConnector reports whether the car's intersection joins a city to
	// the connector network.
	IsGlobalConnector(c *Car) bool
	// DestOrient is the orientation the car will have when it leaves its
	// intersection, taking its committed turn into account.
	DestOrient(c *Car) int
	// Exit resolves the road and segment the car's intersection leads to for orient.
	Exit(c *Car, orient int) (IsecExit, bool)
	// MarkIsecBlocked records an almost-stopped car occupying its intersection.
	MarkIsecBlocked(c *Car)
}

// RoadUpdater runs the per-car road logic (stoplights, turns, segment changes).
type RoadUpdater interface {
	RegisterCar(c *Car)
	UpdateCar(f *Frame, i int)
}

// Spawner places new moving cars on the network.
type Spawner interface {
	AddCar(rng *rand.Rand) (Car, bool)
}

type Ped struct {
	Pos    geom.Vec3
	Radius float64
}

// PedsByRoad is indexed by city, then road.
type PedsByRoad [][][]Ped

// PedestrianSource fills a snapshot of the pedestrians currently crossing roads.
// The snapshot may be slightly stale.
type PedestrianSource interface {
	PedsCrossingRoads(dst *PedsByRoad)
}

// HeightQuery returns the highest obstacle under a horizontal path, sampled with radius.
type HeightQuery interface {
	MaxHeightAlong(p1, p2 geom.Vec3, radius float64) float64
}

type RayProbe interface {
	RayTerrain(p1, p2 geom.Vec3) (geom.Vec3, bool)
	RayStructures(p1, p2 geom.Vec3) (geom.Vec3, bool)
}

type Visibility interface {
	CubeVisible(c geom.Cube) bool
}

type ShadowInvalidator interface {
	InvalidateShadowAt(pos geom.Vec3, radius float64, repeatNextFrame bool)
}

// Effects receives fire-and-forget events such as horns and destructions.
type Effects interface {
	Horn(pos geom.Vec3)
	CarDestroyed(c *Car)
}

// Collaborators wires the manager to the rest of the application. Nil members
// fall back to no-ops.
type Collaborators struct {
	Roads      RoadGraph
	Updater    RoadUpdater
	Spawner    Spawner
	Peds       PedestrianSource
	Heights    HeightQuery
	Rays       RayProbe
	Visibility Visibility
	Shadows    ShadowInvalidator
	Effects    Effects
}

type nopRoads struct{}

func (nopRoads) SegmentBounds(c *Car) geom.Cube { return c.BCube.ExpandByXY(1e6) }
func (nopRoads) IsGlobalConnector(*Car) bool { return false }
func (nopRoads) DestOrient(c *Car) int { return c.Orient() }
func (nopRoads) Exit(*Car, int) (IsecExit, bool) { return IsecExit{}, false }
func (nopRoads) MarkIsecBlocked(*Car) {}
func (nopRoads) RegisterCar(*Car) {}
func (nopRoads) UpdateCar(f *Frame, i int) { f.MaybeAccelerate(i) }
func (nopRoads) AddCar(*rand.Rand) (Car, bool) { return Car{}, false }
func (nopRoads) PedsCrossingRoads(dst *PedsByRoad) { *dst = (*dst)[:0] }
func (nopRoads) MaxHeightAlong(_, _ geom.Vec3, _ float64) float64 { return 0 }
func (nopRoads) RayTerrain(_, _ geom.Vec3) (geom.Vec3, bool) { return geom.Vec3{}, false }
func (nopRoads) RayStructures(_, _ geom.Vec3) (geom.Vec3, bool) { return geom.Vec3{}, false }
func (nopRoads) CubeVisible(geom.Cube) bool { return true }
func (nopRoads) InvalidateShadowAt(geom.Vec3, float64, bool) {}
func (nopRoads) Horn(geom.Vec3) {}
func (nopRoads) CarDestroyed(*Car) {}

func (c Collaborators) withDefaults() Collaborators {
	var n nopRoads
	if c.Roads == nil {
		c.Roads = n
	}
	if c.Updater == nil {
		c.Updater = n
	}
	if c.Spawner == nil {
		c.Spawner = n
	}
	if c.Peds == nil {
		c.Peds = n
	}
	if c.Heights == nil {
		c.Heights = n
	}
	if c.Rays == nil {
		c.Rays = n
	}
	if c.Visibility == nil {
		c.Visibility = n
	}
	if c.Shadows == nil {
		c.Shadows = n
	}
	if c.Effects == nil {
		c.Effects = n
	}
	return c
}
