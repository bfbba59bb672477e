package roadnet

import "citytraffic.ai/internal/sim/geom"

// Crosswalk is a pedestrian crossing of one road just outside an
// intersection. Dim is the travel axis of the road being crossed; A and B are
// the curb ends.
type Crosswalk struct {
	City uint32
	Isec int
	Road uint32
	Dim  int
	A, B geom.Vec3
}

// Crosswalks lists a crossing on every side of every intersection that leads
// onto a city segment.
func (n *Network) Crosswalks() []Crosswalk {
	var out []Crosswalk
	cw := n.crosswalkWidth()
	half := 0.5 * n.rw()
	for c := range n.cities {
		for k := range n.cities[c].Isecs {
			x := &n.cities[c].Isecs[k]
			center := x.Center()
			for dim := 0; dim < 2; dim++ {
				for _, dir := range []bool{false, true} {
					e, ok := n.exitFor(x, dim, dir)
					if !ok || e.City != x.City {
						continue
					}
					var a geom.Vec3
					a[dim] = x.BCube[dim][b2i(dir)] + dirSign(dir)*0.5*cw
					b := a
					a[1-dim] = center[1-dim] - half
					b[1-dim] = center[1-dim] + half
					out = append(out, Crosswalk{City: x.City, Isec: k, Road: e.Road, Dim: dim, A: a, B: b})
				}
			}
		}
	}
	return out
}

// NumRoads is the number of roads per city.
func (n *Network) NumRoads() int { return n.cfg.GridX + n.cfg.GridY }
