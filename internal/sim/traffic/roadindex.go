package traffic

import "citytraffic.ai/internal/sim/geom"

// RoadRange is a run of consecutive cars on one road (or parking lot), with
// the union of their boxes. The run ends where the next record starts.
type RoadRange struct {
	BCube geom.Cube
	Start int
}

// RoadIndex is the road-scoped index used by point queries on the detail
// map. Blocks index into Ranges the same way manager blocks index into cars:
// per city, moving roads first, parking lots from FirstParked. Both slices end
// with a terminator.
type RoadIndex struct {
	Blocks []CarBlock
	Ranges []RoadRange
}

// Rebuild derives the index from cars. Cars may have moved since they were
// sorted; an out-of-order car just opens its own range.
func (ri *RoadIndex) Rebuild(cars []Car) {
	ri.Blocks = ri.Blocks[:0]
	ri.Ranges = ri.Ranges[:0]
	const invalid = ^uint32(0) >> 1
	curCity, curRoad := invalid, invalid
	sawParked := false

	for i := range cars {
		c := &cars[i]
		if c.RoadType == RoadBuilding {
			continue
		}
		newCity := c.CurCity != curCity
		newParked := !sawParked && c.IsParked()
		rix := len(ri.Ranges)
		if newParked && len(ri.Blocks) > 0 && !newCity {
			ri.Blocks[len(ri.Blocks)-1].FirstParked = rix
			sawParked = true
		}
		if newCity || newParked || c.CurRoad != curRoad {
			if newCity {
				if !sawParked && len(ri.Blocks) > 0 {
					ri.Blocks[len(ri.Blocks)-1].FirstParked = rix
				}
				sawParked = false
				ri.Blocks = append(ri.Blocks, CarBlock{Start: rix, City: c.CurCity})
				if c.IsParked() {
					ri.Blocks[len(ri.Blocks)-1].FirstParked = rix
					sawParked = true
				}
			}
			ri.Ranges = append(ri.Ranges, RoadRange{BCube: c.BCube, Start: i})
			curCity, curRoad = c.CurCity, c.CurRoad
		} else {
			last := &ri.Ranges[len(ri.Ranges)-1]
			last.BCube = last.BCube.Union(c.BCube)
		}
	}
	if !sawParked && len(ri.Blocks) > 0 {
		ri.Blocks[len(ri.Blocks)-1].FirstParked = len(ri.Ranges)
	}
	ri.Blocks = append(ri.Blocks, CarBlock{Start: len(ri.Ranges), FirstParked: len(ri.Ranges)})
	ri.Ranges = append(ri.Ranges, RoadRange{Start: len(cars)})
}

// blockBounds is the union of the range boxes of block b.
func (ri *RoadIndex) blockBounds(b int) geom.Cube {
	var bc geom.Cube
	for r := ri.Blocks[b].Start; r < ri.Blocks[b+1].Start; r++ {
		bc = bc.UnionOrAssign(ri.Ranges[r].BCube)
	}
	return bc
}

// Surface selects which cars a map point query looks at.
type Surface uint8

const (
	SurfaceRoad Surface = iota
	SurfaceParking
)

// find returns the first car whose footprint contains pos on the given surface.
func (ri *RoadIndex) find(cars []Car, pos geom.Vec3, surface Surface) (int, bool) {
	for b := 0; b+1 < len(ri.Blocks); b++ {
		if !ri.blockBounds(b).ContainsPtXY(pos) {
			continue
		}
		start, end := ri.Blocks[b].Start, ri.Blocks[b+1].Start
		if surface == SurfaceRoad {
			end = ri.Blocks[b].FirstParked
		} else {
			start = ri.Blocks[b].FirstParked
		}
		for r := start; r < end; r++ {
			rr := &ri.Ranges[r]
			if !rr.BCube.ContainsPtXY(pos) {
				continue
			}
			// a range ends where the next record starts; skipped garage cars
			// in between never contain a road point
			for i := rr.Start; i < ri.Ranges[r+1].Start && i < len(cars); i++ {
				if cars[i].RoadType != RoadBuilding && cars[i].BCube.ContainsPtXY(pos) {
					return i, true
				}
			}
		}
	}
	return -1, false
}
