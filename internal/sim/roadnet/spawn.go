package roadnet

import (
	"math/rand/v2"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
)

// lane is one travel direction of a segment or connector that cars can be
// spawned on.
type lane struct {
	city   uint32
	road   uint32
	seg    uint32
	dim    int
	bounds geom.Cube
	conn   bool
}

type laneKey struct {
	city, road, seg uint32
	dir             bool
}

// spawnTries bounds the attempts to find a free spot for one car.
const spawnTries = 10

func (n *Network) buildLanes() {
	n.lanes = n.lanes[:0]
	for c := range n.cities {
		city := uint32(c)
		for road := uint32(0); int(road) < n.cfg.GridX+n.cfg.GridY; road++ {
			for seg := 0; seg < n.numSegs(road); seg++ {
				n.lanes = append(n.lanes, lane{
					city:   city,
					road:   road,
					seg:    uint32(seg),
					dim:    n.roadDim(road),
					bounds: n.segCube(city, road, uint32(seg)),
				})
			}
		}
	}
	for _, conn := range n.connectors {
		n.lanes = append(n.lanes, lane{
			city:   traffic.ConnectorCity,
			road:   uint32(conn.ID),
			bounds: conn.BCube,
			conn:   true,
		})
	}
	n.laneWeight = 0
	for _, l := range n.lanes {
		n.laneWeight += l.bounds.Size(l.dim)
	}
}

func (n *Network) pickLane(rng *rand.Rand) *lane {
	r := rng.Float64() * n.laneWeight
	for k := range n.lanes {
		r -= n.lanes[k].bounds.Size(n.lanes[k].dim)
		if r < 0 {
			return &n.lanes[k]
		}
	}
	return &n.lanes[len(n.lanes)-1]
}

// AddCar places a new moving car at a random free spot, with segments and
// connectors weighted by length. It gives up after a few overlapping tries.
func (n *Network) AddCar(rng *rand.Rand) (traffic.Car, bool) {
	if len(n.lanes) == 0 {
		return traffic.Car{}, false
	}
	length := n.tr.CarLength
	gap := (1 + n.tr.MinStopSep) * length
	for try := 0; try < spawnTries; try++ {
		l := n.pickLane(rng)
		dir := rng.IntN(2) == 0
		span := l.bounds.Size(l.dim) - 2*length - length
		if span <= 0 {
			continue
		}
		var p geom.Vec3
		p[l.dim] = l.bounds[l.dim][0] + 1.5*length + rng.Float64()*span
		p[1-l.dim] = l.bounds.Center()[1-l.dim] + laneSign(l.dim, dir)*0.25*n.rw()
		bc := n.carBox(p, l.dim)

		key := laneKey{city: l.city, road: l.road, seg: l.seg, dir: dir}
		if n.spotTaken(key, bc, l.dim, gap) {
			continue
		}
		n.spawned[key] = append(n.spawned[key], bc)

		c := traffic.Car{
			CurCity:   l.city,
			CurRoad:   l.road,
			CurSeg:    l.seg,
			RoadType:  traffic.RoadSegment,
			BCube:     bc,
			Dim:       l.dim,
			Dir:       dir,
			MaxSpeed:  n.tr.MaxSpeedMin + (n.tr.MaxSpeedMax-n.tr.MaxSpeedMin)*rng.Float64(),
			Height:    n.tr.CarHeight,
			DestValid: true,
		}
		if l.conn {
			c.RoadType = traffic.RoadConnector
		}
		n.chooseTurn(rng, &c, n.nextIsec(&c))
		return c, true
	}
	return traffic.Car{}, false
}

func (n *Network) spotTaken(key laneKey, bc geom.Cube, dim int, gap float64) bool {
	for _, o := range n.spawned[key] {
		if bc[dim][0] < o[dim][1]+gap && o[dim][0] < bc[dim][1]+gap {
			return true
		}
	}
	return false
}

// ResetSpawns forgets previously spawned positions, e.g. before repopulating.
func (n *Network) ResetSpawns() { clear(n.spawned) }
