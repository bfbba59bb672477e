package roadnet

import (
	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
)

// carIsec is the intersection a car in RoadIntersection state is in.
func (n *Network) carIsec(c *traffic.Car) *Intersection {
	if !c.InIsect() || int(c.CurCity) >= len(n.cities) {
		return nil
	}
	if int(c.CurRoad) >= n.cfg.GridX+n.cfg.GridY {
		return nil
	}
	return n.isecOnRoad(c.CurCity, c.CurRoad, int(c.CurSeg))
}

// nextIsec is the intersection at the end of the segment or connector a car is on.
func (n *Network) nextIsec(c *traffic.Car) *Intersection {
	switch c.RoadType {
	case traffic.RoadConnector:
		if c.Dir {
			return n.isec(uint32(c.CurRoad+1), 0, n.cfg.ConnectorRow)
		}
		return n.isec(c.CurRoad, n.cfg.GridX-1, n.cfg.ConnectorRow)
	case traffic.RoadSegment:
		k := int(c.CurSeg)
		if c.Dir {
			k++
		}
		return n.isecOnRoad(c.CurCity, c.CurRoad, k)
	default:
		return nil
	}
}

// exitFor resolves where leaving x along dim/dir leads. ok is false at the
// edge of a city with no connector on that side.
func (n *Network) exitFor(x *Intersection, dim int, dir bool) (traffic.IsecExit, bool) {
	if dim == 0 {
		if dir && x.I+1 < n.cfg.GridX {
			return traffic.IsecExit{City: x.City, Road: uint32(x.J), Seg: uint32(x.I)}, true
		}
		if !dir && x.I > 0 {
			return traffic.IsecExit{City: x.City, Road: uint32(x.J), Seg: uint32(x.I - 1)}, true
		}
		conn := x.ConnWest
		if dir {
			conn = x.ConnEast
		}
		if conn < 0 {
			return traffic.IsecExit{}, false
		}
		return traffic.IsecExit{City: traffic.ConnectorCity, Road: uint32(conn)}, true
	}
	road := n.roadOf(1, x.I, x.J)
	if dir && x.J+1 < n.cfg.GridY {
		return traffic.IsecExit{City: x.City, Road: road, Seg: uint32(x.J)}, true
	}
	if !dir && x.J > 0 {
		return traffic.IsecExit{City: x.City, Road: road, Seg: uint32(x.J - 1)}, true
	}
	return traffic.IsecExit{}, false
}

// exitBounds is the road volume an exit leads onto.
func (n *Network) exitBounds(e traffic.IsecExit) geom.Cube {
	if e.City == traffic.ConnectorCity {
		return n.connectors[e.Road].BCube
	}
	return n.segCube(e.City, e.Road, e.Seg)
}

// validTurns lists the turns with an exit at x for a car arriving along dim/dir.
func (n *Network) validTurns(x *Intersection, dim int, dir bool) []traffic.TurnDir {
	var out []traffic.TurnDir
	for _, t := range []traffic.TurnDir{traffic.TurnNone, traffic.TurnLeft, traffic.TurnRight} {
		d, s := turnTo(dim, dir, t)
		if _, ok := n.exitFor(x, d, s); ok {
			out = append(out, t)
		}
	}
	return out
}

// SegmentBounds is the volume collision correction may not push a car out
// of. Cars straddle segment ends, so segments include their end
// intersections and intersections include a margin of their approaches.
func (n *Network) SegmentBounds(c *traffic.Car) geom.Cube {
	switch c.RoadType {
	case traffic.RoadSegment:
		bc := n.segCube(c.CurCity, c.CurRoad, c.CurSeg)
		bc = bc.Union(n.isecOnRoad(c.CurCity, c.CurRoad, int(c.CurSeg)).BCube)
		return bc.Union(n.isecOnRoad(c.CurCity, c.CurRoad, int(c.CurSeg)+1).BCube)
	case traffic.RoadConnector:
		conn := n.connectors[c.CurRoad]
		bc := conn.BCube.Union(n.isec(c.CurRoad, n.cfg.GridX-1, n.cfg.ConnectorRow).BCube)
		return bc.Union(n.isec(c.CurRoad+1, 0, n.cfg.ConnectorRow).BCube)
	case traffic.RoadIntersection:
		if x := n.carIsec(c); x != nil {
			return x.BCube.ExpandByXY(2 * n.tr.CarLength)
		}
	}
	return c.BCube
}

// IsGlobalConnector reports whether the car's intersection has a connector road.
func (n *Network) IsGlobalConnector(c *traffic.Car) bool {
	x := n.carIsec(c)
	return x != nil && (x.ConnEast >= 0 || x.ConnWest >= 0)
}

// DestOrient is the orientation a car leaves its intersection with.
func (n *Network) DestOrient(c *traffic.Car) int {
	if c.TurnDone {
		return c.Orient()
	}
	d, s := turnTo(c.Dim, c.Dir, c.TurnDir)
	return orientOf(d, s)
}

// Exit resolves the road and segment the car's intersection leads to along orient.
func (n *Network) Exit(c *traffic.Car, orient int) (traffic.IsecExit, bool) {
	x := n.carIsec(c)
	if x == nil {
		return traffic.IsecExit{}, false
	}
	d, s := fromOrient(orient)
	return n.exitFor(x, d, s)
}
