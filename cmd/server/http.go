package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/persistence/indexdb"
	"citytraffic.ai/internal/sim/geom"
	"citytraffic.ai/internal/sim/world"
	"citytraffic.ai/internal/transport/observer"
)

type routerConfig struct {
	World       *world.World
	Index       *indexdb.SQLiteIndex
	Logger      logrus.FieldLogger
	EnableAdmin bool
	EnablePprof bool
}

func newRouter(cfg routerConfig) http.Handler {
	w := cfg.World
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w.ID(), w.Metrics(), cfg.Index)
	})

	obsSrv := observer.NewServer(w, log)
	r.Get("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	r.Get("/v1/observer/ws", obsSrv.WSHandler())

	if cfg.EnableAdmin {
		// Local-only admin endpoints.
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/state", func(rw http.ResponseWriter, r *http.Request) {
				writeJSON(rw, http.StatusOK, struct {
					WorldID string             `json:"world_id"`
					RunID   string             `json:"run_id"`
					Tick    uint64             `json:"tick"`
					Metrics world.WorldMetrics `json:"metrics"`
				}{
					WorldID: w.ID(),
					RunID:   w.RunID(),
					Tick:    w.CurrentTick(),
					Metrics: w.Metrics(),
				})
			})
			r.Post("/snapshot", func(rw http.ResponseWriter, r *http.Request) {
				ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
				defer cancel()
				tick, err := w.RequestSnapshot(ctx)
				if err != nil {
					writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
					return
				}
				writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
			})
			r.Post("/destroy", func(rw http.ResponseWriter, r *http.Request) {
				var req struct {
					Pos    geom.Vec3 `json:"pos"`
					Radius float64   `json:"radius"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
					return
				}
				if req.Radius <= 0 {
					writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "radius must be > 0"})
					return
				}
				ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
				defer cancel()
				n, err := w.RequestDestroy(ctx, req.Pos, req.Radius)
				if err != nil {
					writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
					return
				}
				writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "destroyed": n})
			})
		})
	} else {
		log.Info("admin endpoints disabled (CT_ENABLE_ADMIN_HTTP=false)")
	}

	if cfg.EnablePprof {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return r
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(rw http.ResponseWriter, worldID string, m world.WorldMetrics, idx *indexdb.SQLiteIndex) {
	gauge := func(name, help string) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
	}
	counter := func(name, help string) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
	}

	gauge("citytraffic_world_tick", "Current world tick.")
	fmt.Fprintf(rw, "citytraffic_world_tick{world=%q} %d\n", worldID, m.Tick)

	gauge("citytraffic_world_frame", "Traffic frame counter.")
	fmt.Fprintf(rw, "citytraffic_world_frame{world=%q} %d\n", worldID, m.Frame)

	gauge("citytraffic_cars", "Cars by state.")
	fmt.Fprintf(rw, "citytraffic_cars{world=%q,state=%q} %d\n", worldID, "moving", m.Stats.Moving)
	fmt.Fprintf(rw, "citytraffic_cars{world=%q,state=%q} %d\n", worldID, "parked", m.Stats.Parked)
	fmt.Fprintf(rw, "citytraffic_cars{world=%q,state=%q} %d\n", worldID, "total", m.Cars)

	gauge("citytraffic_helicopters", "Helicopters by state.")
	fmt.Fprintf(rw, "citytraffic_helicopters{world=%q,state=%q} %d\n", worldID, "flying", m.Stats.HelicoptersFlying)
	fmt.Fprintf(rw, "citytraffic_helicopters{world=%q,state=%q} %d\n", worldID, "total", m.Helicopters)

	gauge("citytraffic_helipads_in_use", "Helipads occupied or reserved.")
	fmt.Fprintf(rw, "citytraffic_helipads_in_use{world=%q} %d\n", worldID, m.PadsInUse)

	gauge("citytraffic_frame_events", "Per-frame collision and navigation events.")
	for _, kv := range []struct {
		k string
		v int
	}{
		{"separated", m.Stats.Separated},
		{"reverted", m.Stats.Reverted},
		{"clamped", m.Stats.Clamped},
		{"tbones", m.Stats.TBones},
		{"navigator_hits", m.Stats.NavigatorHits},
		{"ped_stops", m.Stats.PedStops},
		{"blocked_isecs", m.Stats.BlockedIsecs},
	} {
		fmt.Fprintf(rw, "citytraffic_frame_events{world=%q,event=%q} %d\n", worldID, kv.k, kv.v)
	}

	gauge("citytraffic_peds_crossing", "Pedestrians currently in a crosswalk.")
	fmt.Fprintf(rw, "citytraffic_peds_crossing{world=%q} %d\n", worldID, m.Stats.PedsCrossing)

	gauge("citytraffic_observers", "Connected observers.")
	fmt.Fprintf(rw, "citytraffic_observers{world=%q} %d\n", worldID, m.Observers)

	counter("citytraffic_horns_total", "Horn events.")
	fmt.Fprintf(rw, "citytraffic_horns_total{world=%q} %d\n", worldID, m.HornsTotal)
	counter("citytraffic_cars_destroyed_total", "Cars destroyed.")
	fmt.Fprintf(rw, "citytraffic_cars_destroyed_total{world=%q} %d\n", worldID, m.DestroyedTotal)
	counter("citytraffic_shadow_invalidations_total", "Static shadow invalidations.")
	fmt.Fprintf(rw, "citytraffic_shadow_invalidations_total{world=%q} %d\n", worldID, m.ShadowsTotal)

	gauge("citytraffic_world_step_ms", "Last tick step duration in milliseconds.")
	fmt.Fprintf(rw, "citytraffic_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	if idx == nil {
		return
	}
	s := idx.Stats()
	gauge("citytraffic_index_queue_depth", "SQLite index queue depth.")
	fmt.Fprintf(rw, "citytraffic_index_queue_depth %d\n", s.QueueDepth)
	gauge("citytraffic_index_queue_capacity", "SQLite index queue capacity.")
	fmt.Fprintf(rw, "citytraffic_index_queue_capacity %d\n", s.QueueCapacity)
	counter("citytraffic_index_dropped_total", "Index writes dropped because the queue was full.")
	fmt.Fprintf(rw, "citytraffic_index_dropped_total{kind=%q} %d\n", "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "citytraffic_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
