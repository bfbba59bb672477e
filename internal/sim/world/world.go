package world

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/observerproto"
	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/peds"
	"citytraffic.ai/internal/sim/roadnet"
	"citytraffic.ai/internal/sim/traffic"
	"citytraffic.ai/internal/sim/tuning"
)

type Config struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int

	// CarSpeed scales every car and helicopter speed (1 = nominal).
	CarSpeed float64

	// DaySecs is the length of a day-night cycle; 0 keeps permanent daylight.
	DaySecs float64
}

// World owns the road network, pedestrians and traffic manager. All
// simulation state is mutated only by the world loop goroutine.
type World struct {
	cfg   Config
	tune  tuning.Tuning
	log   logrus.FieldLogger
	runID string

	net     *roadnet.Network
	peds    *peds.Crossings
	traffic *traffic.Manager
	fx      *effects

	carData  []traffic.CityCars
	poses    []traffic.CarPose
	heliPrev []heliMark
	totals   struct{ horns, destroyed, shadows uint64 }

	tick    atomic.Uint64
	metrics atomic.Value // WorldMetrics

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	snapshotReq   chan snapshotReq
	destroyReq    chan destroyReq
	stop          chan struct{}
	stopOnce      sync.Once

	observers map[string]*observerClient

	// leaves that overtook their join on the request channels
	departed map[string]struct{}

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg Config, t tuning.Tuning, logger logrus.FieldLogger) (*World, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		cfg.ID = "city_1"
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = t.TickRateHz
	}
	if cfg.SnapshotEveryTicks < 0 {
		cfg.SnapshotEveryTicks = 0
	}
	if cfg.CarSpeed <= 0 {
		cfg.CarSpeed = t.Traffic.CarSpeed
	}
	if cfg.DaySecs < 0 {
		cfg.DaySecs = 0
	}

	log := logger.WithField("world", cfg.ID)
	w := &World{
		cfg:           cfg,
		tune:          t,
		log:           log,
		runID:         uuid.NewString(),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 256),
		observerLeave: make(chan string, 64),
		snapshotReq:   make(chan snapshotReq, 4),
		destroyReq:    make(chan destroyReq, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
		departed:      map[string]struct{}{},
	}

	w.net = roadnet.New(t, log)
	w.peds = peds.New(t, w.net, log)
	w.fx = &effects{}
	w.traffic = traffic.NewManager(t, traffic.Collaborators{
		Roads:   w.net,
		Updater: w.net,
		Spawner: w.net,
		Peds:    w.peds,
		Heights: w.net,
		Rays:    w.net,
		Shadows: w.fx,
		Effects: w.fx,
	}, log)

	added := w.traffic.InitCars(t.Traffic.NumCars)
	w.traffic.AddParkedCars(w.net.ParkedCars(), w.net.Garages())
	w.traffic.FinalizeCars(traffic.DefaultCarModels(t.Traffic.NumModels))
	w.traffic.AddHelicopters(w.net.Helipads(), t.Aerial.NumModels)
	w.markHelicopters()
	w.applyDaylight()
	w.storeMetrics(traffic.FrameStats{}, 0)

	log.WithFields(logrus.Fields{
		"run_id":      w.runID,
		"cars":        w.traffic.NumCars(),
		"moving":      added,
		"helicopters": len(w.traffic.Helicopters()),
		"tick_hz":     cfg.TickRateHz,
	}).Info("world created")
	return w, nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) RunID() string { return w.runID }

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Config() Config { return w.cfg }

func (w *World) Tuning() tuning.Tuning { return w.tune }

// Layout describes the static road network for observers.
func (w *World) Layout() roadnet.Layout { return w.net.Describe() }

// Traffic exposes the manager. It must only be used while the world loop is
// not running, e.g. from replays and tests.
func (w *World) Traffic() *traffic.Manager { return w.traffic }

func (w *World) Network() *roadnet.Network { return w.net }

func (w *World) Pedestrians() *peds.Crossings { return w.peds }

// Bootstrap is the observer bootstrap payload. Safe to call from any goroutine.
func (w *World) Bootstrap() observerproto.BootstrapResponse {
	t := w.tune.Traffic
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           w.runID,
		Tick:            w.CurrentTick(),
		WorldParams: observerproto.WorldParams{
			TickRateHz: w.cfg.TickRateHz,
			Seed:       w.tune.Seed,
			NumCars:    t.NumCars,
			RoadWidth:  t.RoadWidth,
			CarLength:  t.CarLength,
			CarWidth:   t.CarWidth,
		},
		Layout: w.Layout(),
	}
}
