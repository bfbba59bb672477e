package roadnet

import "citytraffic.ai/internal/sim/geom"

// Layout is the static description of the network sent to observers once
// per session.
type Layout struct {
	RoadWidth  float64     `json:"road_width"`
	Cities     []CityInfo  `json:"cities"`
	Connectors []geom.Cube `json:"connectors"`
	Lots       []geom.Cube `json:"lots"`
	Buildings  []geom.Cube `json:"buildings"`
	Garages    []geom.Cube `json:"garages"`
	Helipads   []geom.Cube `json:"helipads"`
}

type CityInfo struct {
	ID    uint32      `json:"id"`
	BCube geom.Cube   `json:"bcube"`
	Isecs []geom.Cube `json:"isecs"`
	GridX int         `json:"grid_x"`
	GridY int         `json:"grid_y"`
}

func (n *Network) Describe() Layout {
	l := Layout{
		RoadWidth: n.rw(),
		Garages:   n.Garages(),
		Helipads:  n.Helipads(),
	}
	for _, c := range n.cities {
		ci := CityInfo{ID: c.ID, BCube: c.BCube, GridX: n.cfg.GridX, GridY: n.cfg.GridY}
		for _, x := range c.Isecs {
			ci.Isecs = append(ci.Isecs, x.BCube)
		}
		l.Cities = append(l.Cities, ci)
	}
	for _, c := range n.connectors {
		l.Connectors = append(l.Connectors, c.BCube)
	}
	for _, lot := range n.lots {
		l.Lots = append(l.Lots, lot.BCube)
	}
	for _, b := range n.buildings {
		l.Buildings = append(l.Buildings, b.BCube)
	}
	return l
}
