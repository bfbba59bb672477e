package world

import "citytraffic.ai/internal/sim/traffic"

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is one simulated tick as recorded by frame logs and the index.
type TickLogEntry struct {
	Tick    uint64        `json:"tick"`
	Frame   uint64        `json:"frame"`
	Elapsed float64       `json:"elapsed"`
	Stats   FrameStats    `json:"stats"`
	Flights []FlightEvent `json:"flights,omitempty"`

	Horns     int `json:"horns,omitempty"`
	Destroyed int `json:"destroyed,omitempty"`
}

type FrameStats struct {
	Moving  int `json:"moving"`
	Parked  int `json:"parked"`
	Removed int `json:"removed,omitempty"`

	Separated int `json:"separated"`
	Reverted  int `json:"reverted"`
	Clamped   int `json:"clamped"`
	TBones    int `json:"tbones"`

	NavigatorHits     int `json:"navigator_hits"`
	PedStops          int `json:"ped_stops"`
	BlockedIsecs      int `json:"blocked_isecs"`
	HelicoptersFlying int `json:"helicopters_flying"`
	PedsCrossing      int `json:"peds_crossing"`
}

const (
	FlightTakeoff = "TAKEOFF"
	FlightLanded  = "LANDED"
)

// FlightEvent marks a helicopter leaving or reaching a helipad.
type FlightEvent struct {
	Heli    int    `json:"heli"`
	Kind    string `json:"kind"`
	FromPad int    `json:"from_pad"`
	ToPad   int    `json:"to_pad"`
}

func statsFromFrame(st traffic.FrameStats, pedsCrossing int) FrameStats {
	return FrameStats{
		Moving:            st.Moving,
		Parked:            st.Parked,
		Removed:           st.Removed,
		Separated:         st.Separated,
		Reverted:          st.Reverted,
		Clamped:           st.Clamped,
		TBones:            st.TBones,
		NavigatorHits:     st.NavigatorHits,
		PedStops:          st.PedStops,
		BlockedIsecs:      st.BlockedIsecs,
		HelicoptersFlying: st.HelicoptersFlying,
		PedsCrossing:      pedsCrossing,
	}
}
