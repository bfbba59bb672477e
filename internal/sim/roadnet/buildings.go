package roadnet

import (
	"math"

	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/traffic"
)

// Lot is a parking lot filling one city block. Spaces are laid out in a
// south and a north row; parked cars face north or south.
type Lot struct {
	ID     int
	City   uint32
	BCube  geom.Cube
	Spaces []geom.Cube
}

// Building is a box on a city block. Garage and Helipad are all zeros when
// the building has none.
type Building struct {
	City    uint32
	BCube   geom.Cube
	Garage  geom.Cube
	Helipad geom.Cube
}

const (
	lotChance     = 0.35
	spaceOccupied = 0.7
	buildingSplit = 30.0
	buildingGap   = 4.0
)

// blockInterior is the usable area of block (bi, bj), inside the sidewalks.
func (n *Network) blockInterior(city uint32, bi, bj int) geom.Cube {
	inset := 0.5*n.rw() + 0.25*n.rw()
	return geom.NewCube(
		n.isecX(city, bi)+inset, n.isecX(city, bi+1)-inset,
		n.isecY(bj)+inset, n.isecY(bj+1)-inset,
		0, 0)
}

func (n *Network) buildBlocks(city uint32) {
	c := int(city)
	for bj := 0; bj+1 < n.cfg.GridY; bj++ {
		for bi := 0; bi+1 < n.cfg.GridX; bi++ {
			inner := n.blockInterior(city, bi, bj)
			if n.roll(saltBlock, c, bi, bj) < lotChance {
				n.addLot(city, inner)
				continue
			}
			n.addBuildings(city, bi, bj, inner)
		}
	}
}

func (n *Network) addLot(city uint32, inner geom.Cube) {
	w, d := 1.5*n.tr.CarWidth, 1.3*n.tr.CarLength
	lot := Lot{ID: len(n.lots), City: city, BCube: inner}
	lot.BCube[2][1] = n.tr.CarHeight
	perRow := int(inner.Dx() / w)
	rows := [][2]float64{{inner.Y1(), inner.Y1() + d}}
	if inner.Dy() >= 2*d {
		rows = append(rows, [2]float64{inner.Y2() - d, inner.Y2()})
	}
	for _, row := range rows {
		for k := 0; k < perRow && len(lot.Spaces) < n.cfg.ParkingPerBlock; k++ {
			x := inner.X1() + float64(k)*w
			lot.Spaces = append(lot.Spaces, geom.NewCube(x, x+w, row[0], row[1], 0, n.tr.CarHeight))
		}
	}
	n.lots = append(n.lots, lot)
}

func (n *Network) addBuildings(city uint32, bi, bj int, inner geom.Cube) {
	c := int(city)
	parts := []geom.Cube{inner}
	if inner.Dx() > buildingSplit {
		mid := inner.Center().X()
		a, b := inner, inner
		a[0][1] = mid - 0.5*buildingGap
		b[0][0] = mid + 0.5*buildingGap
		parts = []geom.Cube{a, b}
	}
	for k, fp := range parts {
		h := n.cfg.BuildingMinHeight + n.roll(saltHeight, c, 2*bi+k, bj)*(n.cfg.BuildingMaxHeight-n.cfg.BuildingMinHeight)
		b := Building{City: city, BCube: fp}
		b.BCube[2] = [2]float64{0, h}

		gw, gd, gh := 3*n.tr.CarWidth, 2.2*n.tr.CarLength, 2*n.tr.CarHeight
		if n.roll(saltGarage, c, 2*bi+k, bj) < n.cfg.GarageChance && fp.Dx() >= gw+2 && fp.Dy() >= gd+2 && h > gh {
			cx := fp.Center().X()
			b.Garage = geom.NewCube(cx-0.5*gw, cx+0.5*gw, fp.Y1(), fp.Y1()+gd, 0, gh)
		}
		if n.roll(saltHelipad, c, 2*bi+k, bj) < n.cfg.HelipadChance && fp.Dx() >= n.padSize && fp.Dy() >= n.padSize {
			p := fp.Center()
			half := 0.5 * n.padSize
			b.Helipad = geom.NewCube(p[0]-half, p[0]+half, p[1]-half, p[1]+half, h, h)
		}
		n.buildings = append(n.buildings, b)
	}
}

// ParkedCars fills the lots. Whether a space is taken and which way its car
// faces only depend on the seed.
func (n *Network) ParkedCars() []traffic.Car {
	var out []traffic.Car
	for _, lot := range n.lots {
		for k, sp := range lot.Spaces {
			if n.roll(saltSpace, int(lot.City), lot.ID, k) >= spaceOccupied {
				continue
			}
			p := sp.Center()
			p[2] = 0
			out = append(out, traffic.Car{
				CurCity:  lot.City,
				CurRoad:  uint32(lot.ID),
				RoadType: traffic.RoadParking,
				BCube:    n.carBox(p, 1),
				Dim:      1,
				Dir:      n.roll(saltFacing, int(lot.City), lot.ID, k) < 0.5,
				Height:   n.tr.CarHeight,
			})
		}
	}
	return out
}

func (n *Network) Lots() []Lot { return n.lots }

func (n *Network) Buildings() []Building { return n.buildings }

// Garages lists every garage volume.
func (n *Network) Garages() []geom.Cube {
	var out []geom.Cube
	for _, b := range n.buildings {
		if !b.Garage.IsAllZeros() {
			out = append(out, b.Garage)
		}
	}
	return out
}

// Helipads lists every rooftop pad; each pad is flat at roof height.
func (n *Network) Helipads() []geom.Cube {
	var out []geom.Cube
	for _, b := range n.buildings {
		if !b.Helipad.IsAllZeros() {
			out = append(out, b.Helipad)
		}
	}
	return out
}

// MaxHeightAlong is the tallest building within radius of the horizontal
// path p1->p2, or 0 over open ground.
func (n *Network) MaxHeightAlong(p1, p2 geom.Vec3, radius float64) float64 {
	h := 0.0
	for _, b := range n.buildings {
		bc := b.BCube.ExpandByXY(radius)
		bc[2] = [2]float64{-math.MaxFloat64, math.MaxFloat64}
		if bc.LineIntersects(p1, p2) {
			h = math.Max(h, b.BCube.Z2())
		}
	}
	return h
}

// RayTerrain intersects p1->p2 with the flat ground at z = 0.
func (n *Network) RayTerrain(p1, p2 geom.Vec3) (geom.Vec3, bool) {
	if p1[2] == p2[2] || (p1[2] > 0) == (p2[2] > 0) {
		return geom.Vec3{}, false
	}
	t := p1[2] / (p1[2] - p2[2])
	p := p1.Lerp(p2, t)
	p[2] = 0
	return p, true
}

// RayStructures returns the first point where p1->p2 enters a building.
func (n *Network) RayStructures(p1, p2 geom.Vec3) (geom.Vec3, bool) {
	t := 1.0
	hit := false
	for _, b := range n.buildings {
		if b.BCube.ClipLineUpdateT(p1, p2, &t) {
			hit = true
		}
	}
	if !hit {
		return geom.Vec3{}, false
	}
	return p1.Lerp(p2, t), true
}
