package world

import (
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/observerproto"
	"citytraffic.ai/internal/sim/traffic"
)

// ObserverJoinRequest registers a read-only observer session that receives a
// msgpack FrameMsg on TickOut every EveryTicks ticks.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte
	Sub       observerproto.SubscribeMsg
}

// ObserverSubscribeRequest updates an existing observer session subscription settings.
type ObserverSubscribeRequest struct {
	SessionID string
	Sub       observerproto.SubscribeMsg
}

type observerClient struct {
	id      string
	tickOut chan []byte
	sub     observerproto.SubscribeMsg
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if _, gone := w.departed[req.SessionID]; gone {
		delete(w.departed, req.SessionID)
		close(req.TickOut)
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		sub:     normalizeSub(req.Sub),
	}
	w.log.WithFields(logrus.Fields{"session": req.SessionID, "observers": len(w.observers)}).Info("observer joined")
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.sub = normalizeSub(req.Sub)
}

// handleObserverLeave drops a session. Join and leave arrive on separate
// channels, so a leave for an unknown session is remembered and cancels the
// join when it shows up.
func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		if sessionID != "" {
			w.departed[sessionID] = struct{}{}
		}
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
	w.log.WithField("session", sessionID).Info("observer left")
}

func normalizeSub(s observerproto.SubscribeMsg) observerproto.SubscribeMsg {
	s.EveryTicks = lo.Clamp(s.EveryTicks, 1, 1000)
	return s
}

func (w *World) stepObservers(nowTick uint64, stats FrameStats) {
	if len(w.observers) == 0 {
		return
	}
	w.poses = w.traffic.RenderSnapshot(w.poses[:0])

	base := observerproto.FrameMsg{
		Type:            "FRAME",
		ProtocolVersion: observerproto.Version,
		Tick:            nowTick,
		Elapsed:         w.traffic.Elapsed(),
		Helicopters:     heliStates(w.traffic.Helicopters()),
		PadsInUse:       lo.Map(w.traffic.Helipads(), func(p traffic.Helipad, _ int) bool { return p.InUse || p.Reserved }),
		Stats: observerproto.FrameStats{
			Moving:    stats.Moving,
			Parked:    stats.Parked,
			Separated: stats.Separated,
			TBones:    stats.TBones,
			PedStops:  stats.PedStops,
			Flying:    stats.HelicoptersFlying,
		},
	}
	var pedPos [][2]float32
	for _, c := range w.observers {
		if nowTick%uint64(c.sub.EveryTicks) != 0 {
			continue
		}
		msg := base
		msg.Cars = make([]observerproto.CarState, 0, len(w.poses))
		for k := range w.poses {
			p := &w.poses[k]
			ctr := p.BCube.Center()
			if !c.sub.InRegion(ctr[0], ctr[1]) {
				continue
			}
			msg.Cars = append(msg.Cars, carState(p))
		}
		if c.sub.Peds {
			if pedPos == nil {
				pedPos = w.pedPositions()
			}
			msg.Peds = pedPos
		}
		b, err := observerproto.EncodeFrame(&msg)
		if err != nil {
			w.log.WithError(err).Warn("observer frame")
			continue
		}
		sendLatest(c.tickOut, b)
	}
}

func (w *World) pedPositions() [][2]float32 {
	out := [][2]float32{}
	for _, p := range w.peds.Peds() {
		if !p.Crossing {
			continue
		}
		pos := w.peds.Pos(p)
		out = append(out, [2]float32{float32(pos[0]), float32(pos[1])})
	}
	return out
}

func carState(p *traffic.CarPose) observerproto.CarState {
	ctr := p.BCube.Center()
	var flags uint8
	if p.Parked {
		flags |= observerproto.FlagParked
	}
	if p.InGarage {
		flags |= observerproto.FlagGarage
	}
	if p.Headlights {
		flags |= observerproto.FlagHeadlights
	}
	if p.Braking {
		flags |= observerproto.FlagBraking
	}
	if p.TurnSignal {
		flags |= observerproto.FlagTurnSignal
		if p.TurnDir == traffic.TurnLeft {
			flags |= observerproto.FlagTurnLeft
		}
	}
	return observerproto.CarState{
		ID:    int32(p.Index),
		Pos:   [3]float32{float32(ctr[0]), float32(ctr[1]), float32(p.BCube.Z1())},
		Dim:   uint8(p.Dim),
		Dir:   p.Dir,
		RotZ:  float32(p.RotZ),
		Color: p.ColorID,
		Model: p.ModelID,
		Flags: flags,
	}
}

func heliStates(hs []traffic.Helicopter) []observerproto.HeliState {
	out := make([]observerproto.HeliState, 0, len(hs))
	for _, h := range hs {
		ctr := h.BCube.Center()
		out = append(out, observerproto.HeliState{
			Pos:      [3]float32{float32(ctr[0]), float32(ctr[1]), float32(h.BCube.Z1())},
			Heading:  [2]float32{float32(h.Dir[0]), float32(h.Dir[1])},
			State:    h.State.String(),
			BladeRot: float32(h.BladeRot),
			Model:    h.ModelID,
		})
	}
	return out
}
