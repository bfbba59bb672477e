package observerproto

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"citytraffic.ai/internal/sim/roadnet"
)

// Version is the observer protocol version.
const Version = "1.0"

// Client -> Server. First message on the observer WS connection (JSON), and
// can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Region limits cars to an xy rectangle {x1, y1, x2, y2}; all zeros means everything.
	Region [4]float64 `json:"region,omitempty"`

	// EveryTicks sends one frame per N ticks.
	EveryTicks int  `json:"every_ticks,omitempty"`
	Peds       bool `json:"peds,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	Tick            uint64         `json:"tick"`
	WorldParams     WorldParams    `json:"world_params"`
	Layout          roadnet.Layout `json:"layout"`
}

type WorldParams struct {
	TickRateHz int     `json:"tick_rate_hz"`
	Seed       int64   `json:"seed"`
	NumCars    int     `json:"num_cars"`
	RoadWidth  float64 `json:"road_width"`
	CarLength  float64 `json:"car_length"`
	CarWidth   float64 `json:"car_width"`
}

// Car flag bits.
const (
	FlagParked uint8 = 1 << iota
	FlagGarage
	FlagHeadlights
	FlagBraking
	FlagTurnSignal
	FlagTurnLeft
)

// Server -> Client. Sent as a binary (msgpack) message.
type FrameMsg struct {
	Type            string       `msgpack:"type"`
	ProtocolVersion string       `msgpack:"protocol_version"`
	Tick            uint64       `msgpack:"tick"`
	Elapsed         float64      `msgpack:"elapsed"`
	Cars            []CarState   `msgpack:"cars"`
	Helicopters     []HeliState  `msgpack:"helicopters"`
	PadsInUse       []bool       `msgpack:"pads_in_use"`
	Peds            [][2]float32 `msgpack:"peds,omitempty"`
	Stats           FrameStats   `msgpack:"stats"`
}

type CarState struct {
	ID    int32      `msgpack:"id"`
	Pos   [3]float32 `msgpack:"pos"`
	Dim   uint8      `msgpack:"dim"`
	Dir   bool       `msgpack:"dir"`
	RotZ  float32    `msgpack:"rot_z"`
	Color uint8      `msgpack:"color"`
	Model uint8      `msgpack:"model"`
	Flags uint8      `msgpack:"flags"`
}

type HeliState struct {
	Pos      [3]float32 `msgpack:"pos"`
	Heading  [2]float32 `msgpack:"heading"`
	State    string     `msgpack:"state"`
	BladeRot float32    `msgpack:"blade_rot"`
	Model    uint8      `msgpack:"model"`
}

type FrameStats struct {
	Moving    int `msgpack:"moving"`
	Parked    int `msgpack:"parked"`
	Separated int `msgpack:"separated"`
	TBones    int `msgpack:"tbones"`
	PedStops  int `msgpack:"ped_stops"`
	Flying    int `msgpack:"flying"`
}

func EncodeFrame(m *FrameMsg) ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", m.Tick, err)
	}
	return b, nil
}

func DecodeFrame(b []byte) (FrameMsg, error) {
	var m FrameMsg
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return FrameMsg{}, fmt.Errorf("decode frame: %w", err)
	}
	return m, nil
}

// InRegion reports whether p falls in the subscribed region.
func (s SubscribeMsg) InRegion(x, y float64) bool {
	r := s.Region
	if r == [4]float64{} {
		return true
	}
	return x >= r[0] && x <= r[2] && y >= r[1] && y <= r[3]
}
