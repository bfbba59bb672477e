package traffic

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"citytraffic.ai/internal/sim/geom"
)

// CarBlock is a run of cars sharing a city in the sorted car array. Cars in
// [Start, FirstParked) are moving and cars in [FirstParked, next.Start) are
// parked. The last block is a terminator with Start == len(cars).
type CarBlock struct {
	Start       int
	FirstParked int
	City        uint32
}

// compareCars orders cars by city, moving before parked, road, then parked
// cars back to front from the camera and moving cars by the position of their
// front along the travel axis.
func compareCars(camera geom.Vec3) func(a, b Car) int {
	return func(a, b Car) int {
		if a.CurCity != b.CurCity {
			return cmp.Compare(a.CurCity, b.CurCity)
		}
		if ap, bp := a.IsParked(), b.IsParked(); ap != bp {
			if ap {
				return 1
			}
			return -1
		}
		if a.CurRoad != b.CurRoad {
			return cmp.Compare(a.CurRoad, b.CurRoad)
		}
		if a.IsParked() {
			return cmp.Compare(geom.DistXYSq(b.BCube.Center(), camera), geom.DistXYSq(a.BCube.Center(), camera))
		}
		return cmp.Compare(a.FrontPos(), b.FrontPos())
	}
}

func (m *Manager) sortCars() {
	slices.SortStableFunc(m.cars, compareCars(m.camera))
}

// removeDestroyed drops destroyed cars, keeping the order of the rest.
func (m *Manager) removeDestroyed() int {
	before := len(m.cars)
	m.cars = lo.Reject(m.cars, func(c Car, _ int) bool { return c.Destroyed })
	m.carDestroyed = false
	return before - len(m.cars)
}

// blockBuilder splits the sorted car array into blocks while it is scanned.
type blockBuilder struct {
	blocks    []CarBlock
	sawParked bool
}

func (b *blockBuilder) reset(dst []CarBlock) {
	b.blocks = dst[:0]
	b.sawParked = false
}

func (b *blockBuilder) add(i int, c *Car) {
	if n := len(b.blocks); n == 0 || c.CurCity != b.blocks[n-1].City {
		if !b.sawParked && n > 0 {
			b.blocks[n-1].FirstParked = i
		}
		b.sawParked = false
		b.blocks = append(b.blocks, CarBlock{Start: i, City: c.CurCity})
	}
	if c.IsParked() && !b.sawParked {
		b.blocks[len(b.blocks)-1].FirstParked = i
		b.sawParked = true
	}
}

func (b *blockBuilder) finish(n int) []CarBlock {
	if k := len(b.blocks); k > 0 && !b.sawParked {
		b.blocks[k-1].FirstParked = n
	}
	b.blocks = append(b.blocks, CarBlock{Start: n, FirstParked: n})
	return b.blocks
}

// rebuildBlocks sorts and indexes the cars without simulating a frame.
func (m *Manager) rebuildBlocks() {
	m.sortCars()
	var bb blockBuilder
	bb.reset(m.blocks)
	for i := range m.cars {
		bb.add(i, &m.cars[i])
	}
	m.blocks = bb.finish(len(m.cars))
	m.computeBlockBounds()
}

// computeBlockBounds unions the car boxes of each block. Run after all cars
// have moved so queries see the published poses.
func (m *Manager) computeBlockBounds() {
	nb := max(len(m.blocks)-1, 0)
	if cap(m.blockBounds) < nb {
		m.blockBounds = make([]geom.Cube, nb)
	}
	m.blockBounds = m.blockBounds[:nb]
	for b := 0; b < nb; b++ {
		var bc geom.Cube
		for i := m.blocks[b].Start; i < m.blocks[b+1].Start; i++ {
			bc = bc.UnionOrAssign(m.cars[i].BCube)
		}
		m.blockBounds[b] = bc
	}
}

// Blocks returns the block index of the current frame, terminator included.
// Callers must not modify it.
func (m *Manager) Blocks() []CarBlock { return m.blocks }

// BlockBounds is the union of the boxes of every car in block b.
func (m *Manager) BlockBounds(b int) geom.Cube {
	if b < 0 || b >= len(m.blockBounds) {
		return geom.Cube{}
	}
	return m.blockBounds[b]
}

// BlockRange is the car index range of block b, either its moving or its parked part.
func (m *Manager) BlockRange(b int, parked bool) (start, end int) {
	if b < 0 || b+1 >= len(m.blocks) {
		panic("traffic: block index out of range")
	}
	cb := m.blocks[b]
	if parked {
		return cb.FirstParked, m.blocks[b+1].Start
	}
	return cb.Start, cb.FirstParked
}

// CarsInBlock yields the cars of block b, moving or parked, with their indices.
func (m *Manager) CarsInBlock(b int, parked bool, fn func(i int, c *Car) bool) {
	start, end := m.BlockRange(b, parked)
	for i := start; i < end; i++ {
		if !fn(i, &m.cars[i]) {
			return
		}
	}
}
