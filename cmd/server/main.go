package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/persistence/archive"
	"citytraffic.ai/internal/persistence/indexdb"
	persistlog "citytraffic.ai/internal/persistence/log"
	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", envString("CT_ADDR", ":8080"), "http listen address")
		worldID    = flag.String("world", envString("CT_WORLD", "city_1"), "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", envString("CT_DATA_DIR", "./data"), "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", envBool("CT_DISABLE_DB", false), "disable the sqlite index")
		logEvery   = flag.Int("log_every", envInt("CT_LOG_EVERY_TICKS", 1), "write every Nth tick to frame logs (flight ticks are always kept)")
		daySecs    = flag.Float64("day_secs", 0, "day-night cycle length in seconds (0 = always day)")
		logLevel   = flag.String("log_level", envString("CT_LOG_LEVEL", "info"), "log level")

		archiveEvery  = flag.Uint64("archive_every_ticks", uint64(envInt("CT_ARCHIVE_EVERY_TICKS", 0)), "copy period-end snapshots into archives/ (0 = off)")
		keepSnapshots = flag.Int("keep_snapshots", envInt("CT_KEEP_SNAPSHOTS", 0), "keep only the newest N snapshots (0 = keep all)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := logger.WithField("component", "server")

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	// Load tuning (required for fresh world; snapshots carry their own).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			log.WithError(tuneErr).Fatal("load tuning")
		}
		log.WithField("path", tp).Warn("tuning not found; using snapshot tuning")
	}

	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			log.WithError(err).Fatal("read snapshot")
		}
		if s.Header.WorldID != "" && s.Header.WorldID != *worldID {
			log.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, s.Header.WorldID)
		}
		snap = &s
		tune = s.Tuning
	}

	cfg := world.Config{
		ID:                 *worldID,
		TickRateHz:         tune.TickRateHz,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		DaySecs:            *daySecs,
	}
	if snap != nil {
		cfg.TickRateHz = snap.TickRateHz
	}
	w, err := world.New(cfg, tune, logger)
	if err != nil {
		log.WithError(err).Fatal("world")
	}
	if snap != nil {
		if err := w.ImportSnapshot(*snap); err != nil {
			log.WithError(err).Fatal("import snapshot")
		}
		log.WithFields(logrus.Fields{
			"snapshot": filepath.Base(snapshotToLoad),
			"tick":     w.CurrentTick(),
		}).Info("resumed from snapshot")
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			log.WithError(err).Fatal("open index")
		}
		defer idx.Close()
		if err := idx.UpsertTuning(*worldID, w.Tuning()); err != nil {
			log.WithError(err).Warn("index: upsert tuning")
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(worldDir, *logEvery)
	defer tickLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{tickLog, idx})
	} else {
		w.SetTickLogger(tickLog)
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", s.Header.Tick))
				if err := snapshot.WriteSnapshot(path, s); err != nil {
					log.WithError(err).Error("snapshot write")
					continue
				}
				var size uint64
				if fi, err := os.Stat(path); err == nil {
					size = uint64(fi.Size())
				}
				log.WithFields(logrus.Fields{
					"tick": s.Header.Tick,
					"size": humanize.Bytes(size),
				}).Info("snapshot written")
				if idx != nil {
					idx.RecordSnapshot(path, s)
				}
				if period, archived, ok, err := archive.ArchiveSnapshot(worldDir, path, s, *archiveEvery); err != nil {
					log.WithError(err).Error("archive snapshot")
				} else if ok {
					log.WithFields(logrus.Fields{"period": period, "path": archived}).Info("snapshot archived")
				}
				if removed, err := archive.Prune(worldDir, *keepSnapshots); err != nil {
					log.WithError(err).Warn("prune snapshots")
				} else if len(removed) > 0 {
					log.WithField("removed", len(removed)).Debug("pruned snapshots")
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("world stopped")
		}
	}()

	srv := &http.Server{
		Addr: *addr,
		Handler: newRouter(routerConfig{
			World:       w,
			Index:       idx,
			Logger:      logger,
			EnableAdmin: envBool("CT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
			EnablePprof: envBool("CT_ENABLE_PPROF_HTTP", false),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithField("addr", *addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("ListenAndServe")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	ents, err := archive.List(worldDir)
	if err != nil || len(ents) == 0 {
		return ""
	}
	return ents[len(ents)-1].Path
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}
