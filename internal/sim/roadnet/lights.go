package roadnet

import (
	"math"

	"citytraffic.ai/internal/sim/traffic"
)

// Light is the state of one direction of a stoplight.
type Light uint8

const (
	LightRed Light = iota
	LightYellow
	LightGreen
)

func (l Light) String() string {
	switch l {
	case LightGreen:
		return "green"
	case LightYellow:
		return "yellow"
	default:
		return "red"
	}
}

// Each dim is green for 40% of the cycle and yellow for 5%, with a 5%
// all-red gap before the other dim starts.
const (
	greenFrac  = 0.40
	yellowFrac = 0.05
	halfCycle  = 0.5
)

// maxIsecOccupancy keeps queues from gridlocking an intersection.
const maxIsecOccupancy = 4

func (n *Network) phase(x *Intersection) float64 {
	t := n.cfg.LightCycleSecs
	if t <= 0 {
		return 0
	}
	p := math.Mod(n.now+x.LightOffset, t) / t
	if p < 0 {
		p++
	}
	return p
}

// LightFor is the light shown to traffic travelling along dim through x.
func (n *Network) LightFor(x *Intersection, dim int) Light {
	p := n.phase(x)
	if dim == 1 {
		p -= halfCycle
		if p < 0 {
			p++
		}
	}
	switch {
	case p < greenFrac:
		return LightGreen
	case p < greenFrac+yellowFrac:
		return LightYellow
	default:
		return LightRed
	}
}

// WalkSignal reports whether pedestrians may start crossing a road of dim at
// x: its traffic is held at red while the cross traffic has green.
func (n *Network) WalkSignal(city uint32, isec int, dim int) bool {
	if int(city) >= len(n.cities) || isec < 0 || isec >= len(n.cities[city].Isecs) {
		return false
	}
	x := &n.cities[city].Isecs[isec]
	return n.LightFor(x, dim) == LightRed && n.LightFor(x, 1-dim) == LightGreen
}

// canEnter reports whether a car travelling along dim may drive into x now.
// Cross traffic stuck inside the intersection keeps it closed even on green.
func (n *Network) canEnter(x *Intersection, dim int) bool {
	if n.LightFor(x, dim) != LightGreen {
		return false
	}
	if x.blocked[1-dim][0] || x.blocked[1-dim][1] {
		return false
	}
	return x.occupied < maxIsecOccupancy
}

// MarkIsecBlocked records an almost-stopped car inside its intersection.
func (n *Network) MarkIsecBlocked(c *traffic.Car) {
	if x := n.carIsec(c); x != nil {
		x.blocked[c.Dim][b2i(c.Dir)] = true
	}
}

// RegisterCar counts the cars inside each intersection this frame.
func (n *Network) RegisterCar(c *traffic.Car) {
	if !c.InIsect() {
		return
	}
	if x := n.carIsec(c); x != nil {
		x.occupied++
	}
}

// IsecBlocked exposes the blocked bits of an intersection for dim and dir.
func (n *Network) IsecBlocked(city uint32, isec, dim int, dir bool) bool {
	return n.cities[city].Isecs[isec].blocked[dim][b2i(dir)]
}
