package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int   `yaml:"tick_rate_hz"`
	Seed               int64 `yaml:"seed"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks"`

	Traffic    TrafficTuning    `yaml:"traffic"`
	Aerial     AerialTuning     `yaml:"aerial"`
	Network    NetworkTuning    `yaml:"network"`
	Pedestrian PedestrianTuning `yaml:"pedestrians"`
}

// TrafficTuning holds the ground traffic constants. Speeds are unitless
// (1.0 is the nominal city speed limit); SpeedScale converts them to
// distance per tick.
type TrafficTuning struct {
	NumCars    int     `yaml:"num_cars"`
	CarSpeed   float64 `yaml:"car_speed"`
	SpeedScale float64 `yaml:"speed_scale"`

	RoadWidth float64 `yaml:"road_width"`
	CarLength float64 `yaml:"car_length"`
	CarWidth  float64 `yaml:"car_width"`
	CarHeight float64 `yaml:"car_height"`

	MaxSpeedMin        float64 `yaml:"max_speed_min"`
	MaxSpeedMax        float64 `yaml:"max_speed_max"`
	ConnectorSpeedMult float64 `yaml:"connector_speed_mult"`

	MinStopSep    float64 `yaml:"min_stop_sep"`
	SpeedSepCoeff float64 `yaml:"speed_sep_coeff"`
	AccelRate     float64 `yaml:"accel_rate"`
	DecelRate     float64 `yaml:"decel_rate"`
	FastDecelMult float64 `yaml:"fast_decel_mult"`

	HornRadius float64 `yaml:"horn_radius"`
	NumColors  int     `yaml:"num_colors"`
	NumModels  int     `yaml:"num_models"`

	// Iteration caps for car-ahead chain walks. These bound degenerate or
	// cyclic chains; they are approximations, not correctness limits.
	MaxCarsInFrontScan int `yaml:"max_cars_in_front_scan"`
	MaxQueueScan       int `yaml:"max_queue_scan"`

	DetailMap  bool `yaml:"detail_map"`
	CarShadows bool `yaml:"car_shadows"`
}

type AerialTuning struct {
	Occupancy        float64 `yaml:"occupancy"`
	NumModels        int     `yaml:"num_models"`
	ModelScale       float64 `yaml:"model_scale"`
	SpeedMult        float64 `yaml:"speed_mult"`
	TakeoffSpeedFrac float64 `yaml:"takeoff_speed_frac"`
	LandSpeedFrac    float64 `yaml:"land_speed_frac"`
	RotateRate       float64 `yaml:"rotate_rate"`
	BladeRate        float64 `yaml:"blade_rate"`

	DestAttempts   int     `yaml:"dest_attempts"`
	RetryWaitSecs  float64 `yaml:"retry_wait_secs"`
	WaitMinSecs    float64 `yaml:"wait_min_secs"`
	WaitMaxSecs    float64 `yaml:"wait_max_secs"`
	InitialWaitMin float64 `yaml:"initial_wait_min_secs"`
	InitialWaitMax float64 `yaml:"initial_wait_max_secs"`

	DynamicShadows bool    `yaml:"dynamic_shadows"`
	ShadowThresh   float64 `yaml:"shadow_thresh"`
}

type NetworkTuning struct {
	Cities         int     `yaml:"cities"`
	GridX          int     `yaml:"grid_x"`
	GridY          int     `yaml:"grid_y"`
	RoadSpacing    float64 `yaml:"road_spacing"`
	CityGap        float64 `yaml:"city_gap"`
	ConnectorRow   int     `yaml:"connector_row"`
	LightCycleSecs float64 `yaml:"light_cycle_secs"`

	ParkingPerBlock   int     `yaml:"parking_per_block"`
	GarageChance      float64 `yaml:"garage_chance"`
	HelipadChance     float64 `yaml:"helipad_chance"`
	BuildingMinHeight float64 `yaml:"building_min_height"`
	BuildingMaxHeight float64 `yaml:"building_max_height"`
}

type PedestrianTuning struct {
	PerCity int     `yaml:"per_city"`
	Speed   float64 `yaml:"speed"`
	Radius  float64 `yaml:"radius"`
}

// TicksPerSecond is the frame-tick base that per-tick rates are expressed in.
const TicksPerSecond = 40.0

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         40,
		Seed:               1337,
		SnapshotEveryTicks: 12000,
		Traffic: TrafficTuning{
			NumCars:            400,
			CarSpeed:           1.0,
			SpeedScale:         0.4,
			RoadWidth:          8.0,
			CarLength:          4.4,
			CarWidth:           1.9,
			CarHeight:          1.5,
			MaxSpeedMin:        0.8,
			MaxSpeedMax:        1.2,
			ConnectorSpeedMult: 2.0,
			MinStopSep:         0.25,
			SpeedSepCoeff:      1.11,
			AccelRate:          0.02,
			DecelRate:          0.05,
			FastDecelMult:      10.0,
			HornRadius:         30.0,
			NumColors:          8,
			NumModels:          4,
			MaxCarsInFrontScan: 50,
			MaxQueueScan:       1000,
			DetailMap:          false,
			CarShadows:         true,
		},
		Aerial: AerialTuning{
			Occupancy:        0.5,
			NumModels:        1,
			ModelScale:       2.5,
			SpeedMult:        2.0,
			TakeoffSpeedFrac: 0.2,
			LandSpeedFrac:    0.2,
			RotateRate:       0.02,
			BladeRate:        0.75,
			DestAttempts:     20,
			RetryWaitSecs:    1.0,
			WaitMinSecs:      30,
			WaitMaxSecs:      60,
			InitialWaitMin:   5,
			InitialWaitMax:   30,
			DynamicShadows:   false,
			ShadowThresh:     500,
		},
		Network: NetworkTuning{
			Cities:            2,
			GridX:             5,
			GridY:             4,
			RoadSpacing:       60,
			CityGap:           300,
			ConnectorRow:      1,
			LightCycleSecs:    12,
			ParkingPerBlock:   6,
			GarageChance:      0.3,
			HelipadChance:     0.25,
			BuildingMinHeight: 10,
			BuildingMaxHeight: 80,
		},
		Pedestrian: PedestrianTuning{
			PerCity: 40,
			Speed:   1.4,
			Radius:  0.4,
		},
	}
}

// Load reads tuning.yaml over the defaults. Missing keys keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 40
	}
	if t.Traffic.MaxSpeedMax < t.Traffic.MaxSpeedMin {
		t.Traffic.MaxSpeedMax = t.Traffic.MaxSpeedMin
	}
	if t.Aerial.WaitMaxSecs < t.Aerial.WaitMinSecs {
		t.Aerial.WaitMaxSecs = t.Aerial.WaitMinSecs
	}
	if t.Aerial.InitialWaitMax < t.Aerial.InitialWaitMin {
		t.Aerial.InitialWaitMax = t.Aerial.InitialWaitMin
	}
	if t.Network.ConnectorRow >= t.Network.GridY {
		t.Network.ConnectorRow = t.Network.GridY - 1
	}
}

func (t Tuning) Validate() error {
	tr := t.Traffic
	if tr.NumCars < 0 {
		return fmt.Errorf("traffic.num_cars must be >= 0")
	}
	if tr.RoadWidth <= 0 || tr.CarLength <= 0 || tr.CarWidth <= 0 || tr.CarHeight <= 0 {
		return fmt.Errorf("traffic road/car dimensions must be > 0")
	}
	if tr.CarWidth >= 0.5*tr.RoadWidth {
		return fmt.Errorf("traffic.car_width must be < half of road_width (two lanes)")
	}
	if tr.MaxSpeedMin <= 0 {
		return fmt.Errorf("traffic.max_speed_min must be > 0")
	}
	if tr.ConnectorSpeedMult < 1 {
		return fmt.Errorf("traffic.connector_speed_mult must be >= 1")
	}
	if tr.SpeedScale <= 0 || tr.CarSpeed < 0 {
		return fmt.Errorf("traffic speed_scale must be > 0 and car_speed >= 0")
	}
	if tr.MaxCarsInFrontScan <= 0 || tr.MaxQueueScan <= 0 {
		return fmt.Errorf("traffic scan caps must be > 0")
	}
	if tr.NumColors <= 0 {
		return fmt.Errorf("traffic.num_colors must be > 0")
	}
	a := t.Aerial
	if a.Occupancy < 0 || a.Occupancy > 1 {
		return fmt.Errorf("aerial.occupancy must be in [0, 1]")
	}
	if a.DestAttempts <= 0 {
		return fmt.Errorf("aerial.dest_attempts must be > 0")
	}
	if a.RetryWaitSecs <= 0 {
		return fmt.Errorf("aerial.retry_wait_secs must be > 0")
	}
	// a zero wait marks a helicopter with no flight scheduled
	if a.WaitMinSecs <= 0 || a.WaitMaxSecs <= 0 {
		return fmt.Errorf("aerial wait_min_secs/wait_max_secs must be > 0")
	}
	if a.InitialWaitMin <= 0 || a.InitialWaitMax <= 0 {
		return fmt.Errorf("aerial initial_wait_min_secs/initial_wait_max_secs must be > 0")
	}
	n := t.Network
	if n.Cities <= 0 {
		return fmt.Errorf("network.cities must be > 0")
	}
	if n.GridX < 2 || n.GridY < 2 {
		return fmt.Errorf("network grid must be at least 2x2")
	}
	if n.RoadSpacing < 2*tr.RoadWidth+2*tr.CarLength {
		return fmt.Errorf("network.road_spacing too small for road_width %.1f", tr.RoadWidth)
	}
	if n.Cities > 1 && n.CityGap < 2*tr.CarLength {
		return fmt.Errorf("network.city_gap too small for connector roads")
	}
	if n.LightCycleSecs <= 0 {
		return fmt.Errorf("network.light_cycle_secs must be > 0")
	}
	return nil
}
