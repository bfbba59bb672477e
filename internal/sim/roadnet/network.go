// Package roadnet generates a row of grid cities joined by connector roads
// and runs the per-car road logic on it: stoplights, turns, segment changes
// and connector transfers. It implements the road collaborators of the
// traffic core.
package roadnet

import (
	"math"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
)

// roadTop is the height of every road volume. Only xy matters for
// containment; z just has to cover the cars.
const roadTop = 20.0

// Intersection is one grid crossing with its stoplight.
type Intersection struct {
	City  uint32
	I, J  int
	BCube geom.Cube
	// LightOffset shifts this intersection's light cycle, in seconds.
	LightOffset float64
	// ConnEast and ConnWest are connector ids, or -1.
	ConnEast, ConnWest int

	// blocked is indexed by [dim][dir] of almost-stopped cars inside; it is
	// cleared every frame.
	blocked  [2][2]bool
	occupied int
}

func (x *Intersection) Center() geom.Vec3 { return x.BCube.Center() }

type City struct {
	ID    uint32
	X0    float64
	BCube geom.Cube
	Isecs []Intersection
}

// Connector is the straight road between the east edge of city ID and the
// west edge of city ID+1, along the connector row.
type Connector struct {
	ID    int
	BCube geom.Cube
}

// Network is not safe for concurrent use; the world loop drives it together
// with the traffic manager.
type Network struct {
	cfg  tuning.NetworkTuning
	tr   tuning.TrafficTuning
	seed int64
	log  logrus.FieldLogger

	cities     []City
	connectors []Connector
	lots       []Lot
	buildings  []Building
	lanes      []lane
	laneWeight float64
	spawned    map[laneKey][]geom.Cube
	padSize    float64

	now float64
}

// New lays out the cities, roads, lots and buildings for t. Generation is a
// pure function of t.Seed.
func New(t tuning.Tuning, logger logrus.FieldLogger) *Network {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &Network{
		cfg:     t.Network,
		tr:      t.Traffic,
		seed:    t.Seed,
		log:     logger.WithField("component", "roadnet"),
		spawned: map[laneKey][]geom.Cube{},
		padSize: 1.2 * t.Traffic.CarLength * max(t.Aerial.ModelScale, 1),
	}
	n.buildCities()
	n.buildConnectors()
	n.buildLanes()
	for c := range n.cities {
		n.buildBlocks(uint32(c))
	}
	n.log.WithFields(logrus.Fields{
		"cities":     len(n.cities),
		"connectors": len(n.connectors),
		"lanes":      len(n.lanes),
		"lots":       len(n.lots),
		"buildings":  len(n.buildings),
	}).Info("road network generated")
	return n
}

func (n *Network) rw() float64 { return n.tr.RoadWidth }

func (n *Network) cityWidth() float64 { return float64(n.cfg.GridX-1) * n.cfg.RoadSpacing }

func (n *Network) isecX(city uint32, i int) float64 {
	return n.cities[city].X0 + float64(i)*n.cfg.RoadSpacing
}

func (n *Network) isecY(j int) float64 { return float64(j) * n.cfg.RoadSpacing }

func (n *Network) isec(city uint32, i, j int) *Intersection {
	return &n.cities[city].Isecs[j*n.cfg.GridX+i]
}

func (n *Network) buildCities() {
	half := 0.5 * n.rw()
	n.cities = make([]City, n.cfg.Cities)
	for c := range n.cities {
		city := &n.cities[c]
		city.ID = uint32(c)
		city.X0 = float64(c) * (n.cityWidth() + n.cfg.CityGap)
		city.BCube = geom.NewCube(city.X0-half, city.X0+n.cityWidth()+half,
			-half, n.isecY(n.cfg.GridY-1)+half, 0, roadTop)
		city.Isecs = make([]Intersection, n.cfg.GridX*n.cfg.GridY)
		for j := 0; j < n.cfg.GridY; j++ {
			for i := 0; i < n.cfg.GridX; i++ {
				x := &city.Isecs[j*n.cfg.GridX+i]
				cx, cy := city.X0+float64(i)*n.cfg.RoadSpacing, n.isecY(j)
				*x = Intersection{
					City:        uint32(c),
					I:           i,
					J:           j,
					BCube:       geom.NewCube(cx-half, cx+half, cy-half, cy+half, 0, roadTop),
					LightOffset: n.cfg.LightCycleSecs * n.roll(saltLight, c, i, j),
					ConnEast:    -1,
					ConnWest:    -1,
				}
			}
		}
	}
}

func (n *Network) buildConnectors() {
	row := n.cfg.ConnectorRow
	half := 0.5 * n.rw()
	y := n.isecY(row)
	for c := 0; c+1 < len(n.cities); c++ {
		west := n.isec(uint32(c), n.cfg.GridX-1, row)
		east := n.isec(uint32(c+1), 0, row)
		n.connectors = append(n.connectors, Connector{
			ID:    c,
			BCube: geom.NewCube(west.BCube.X2(), east.BCube.X1(), y-half, y+half, 0, roadTop),
		})
		west.ConnEast = c
		east.ConnWest = c
	}
}

// Advance moves the light clock and clears the per-frame intersection state.
// Call it once before each traffic frame.
func (n *Network) Advance(dt float64) {
	n.now += dt
	for c := range n.cities {
		for k := range n.cities[c].Isecs {
			x := &n.cities[c].Isecs[k]
			x.blocked = [2][2]bool{}
			x.occupied = 0
		}
	}
}

func (n *Network) Now() float64 { return n.now }

// SetNow restores the light clock, e.g. after loading a snapshot.
func (n *Network) SetNow(now float64) { n.now = now }

func (n *Network) Cities() []City { return n.cities }

func (n *Network) Connectors() []Connector { return n.connectors }

// Bounds covers every city and connector.
func (n *Network) Bounds() geom.Cube {
	var bc geom.Cube
	for _, c := range n.cities {
		bc = bc.UnionOrAssign(c.BCube)
	}
	for _, b := range n.buildings {
		bc = bc.UnionOrAssign(b.BCube)
	}
	return bc
}

// roadDim is 0 for the horizontal roads 0..GridY-1 and 1 for the vertical
// roads GridY..GridY+GridX-1.
func (n *Network) roadDim(road uint32) int {
	if int(road) < n.cfg.GridY {
		return 0
	}
	return 1
}

// roadOf is the road through isec (i, j) along dim.
func (n *Network) roadOf(dim, i, j int) uint32 {
	if dim == 0 {
		return uint32(j)
	}
	return uint32(n.cfg.GridY + i)
}

// along is the position of (i, j) along a road of dim.
func along(dim, i, j int) int {
	if dim == 0 {
		return i
	}
	return j
}

// isecOnRoad is the k-th intersection along road.
func (n *Network) isecOnRoad(city, road uint32, k int) *Intersection {
	if n.roadDim(road) == 0 {
		return n.isec(city, k, int(road))
	}
	return n.isec(city, int(road)-n.cfg.GridY, k)
}

func (n *Network) numSegs(road uint32) int {
	if n.roadDim(road) == 0 {
		return n.cfg.GridX - 1
	}
	return n.cfg.GridY - 1
}

// segCube is the road surface between intersection seg and seg+1 of road.
func (n *Network) segCube(city, road, seg uint32) geom.Cube {
	a := n.isecOnRoad(city, road, int(seg))
	b := n.isecOnRoad(city, road, int(seg)+1)
	bc := a.BCube.Union(b.BCube)
	dim := n.roadDim(road)
	bc[dim][0] = a.BCube[dim][1]
	bc[dim][1] = b.BCube[dim][0]
	return bc
}

// laneSign puts traffic on the right-hand side of the road.
func laneSign(dim int, dir bool) float64 {
	if dim == 0 {
		if dir {
			return -1
		}
		return 1
	}
	if dir {
		return 1
	}
	return -1
}

// laneCoord is the cross-axis coordinate of the lane for dim/dir through x.
func (n *Network) laneCoord(x *Intersection, dim int, dir bool) float64 {
	return x.Center()[1-dim] + laneSign(dim, dir)*0.25*n.rw()
}

// turnTo is the travel axis and direction after turn.
func turnTo(dim int, dir bool, turn traffic.TurnDir) (int, bool) {
	switch turn {
	case traffic.TurnLeft:
		if dim == 0 {
			return 1, dir
		}
		return 0, !dir
	case traffic.TurnRight:
		if dim == 0 {
			return 1, !dir
		}
		return 0, dir
	default:
		return dim, dir
	}
}

func orientOf(dim int, dir bool) int { return 2*dim + b2i(dir) }

func fromOrient(orient int) (int, bool) { return orient / 2, orient%2 == 1 }

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dirSign(dir bool) float64 {
	if dir {
		return 1
	}
	return -1
}

// carBox is a car-sized box centered at p, long along dim.
func (n *Network) carBox(p geom.Vec3, dim int) geom.Cube {
	half := geom.V(0.5*n.tr.CarLength, 0.5*n.tr.CarWidth, 0)
	if dim == 1 {
		half[0], half[1] = half[1], half[0]
	}
	bc := geom.CubeFromPoint(p).ExpandByVec(half)
	bc[2] = [2]float64{p[2], p[2] + n.tr.CarHeight}
	return bc
}

// crosswalkWidth is the strip between a stop line and its intersection.
func (n *Network) crosswalkWidth() float64 { return math.Max(1, 0.25*n.rw()) }
