package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/persistence/snapshot"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func newTestRouter(t *testing.T, admin bool) (*world.World, http.Handler) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tu := tuning.Defaults()
	tu.Traffic.NumCars = 40
	w, err := world.New(world.Config{TickRateHz: 50}, tu, logger)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w, newRouter(routerConfig{World: w, Logger: logger, EnableAdmin: admin})
}

func TestMetricsExposition(t *testing.T) {
	w, h := newTestRouter(t, false)
	w.StepOnce()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`citytraffic_world_tick{world="city_1"} 1`,
		`# TYPE citytraffic_horns_total counter`,
		`citytraffic_cars{world="city_1",state="moving"}`,
		`citytraffic_frame_events{world="city_1",event="tbones"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(body, "citytraffic_index_queue_depth") {
		t.Fatalf("index metrics without an index")
	}
}

func TestAdminDisabled(t *testing.T) {
	_, h := newTestRouter(t, false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAdminRejectsRemote(t *testing.T) {
	_, h := newTestRouter(t, true)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAdminStateSnapshotAndDestroy(t *testing.T) {
	w, h := newTestRouter(t, true)
	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/admin/v1/state", "")
	var st struct {
		WorldID string `json:"world_id"`
		RunID   string `json:"run_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.WorldID != "city_1" || st.RunID != w.RunID() {
		t.Fatalf("state: %s err=%v", rec.Body.String(), err)
	}

	rec = do(http.MethodPost, "/admin/v1/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: %d %s", rec.Code, rec.Body.String())
	}
	select {
	case <-sink:
	case <-ctx.Done():
		t.Fatalf("no snapshot delivered")
	}

	rec = do(http.MethodPost, "/admin/v1/destroy", `{"pos":[0,0,0],"radius":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero radius: %d", rec.Code)
	}
	rec = do(http.MethodPost, "/admin/v1/destroy", `{"pos":[0,0,0],"radius":1e6}`)
	var dr struct {
		OK        bool `json:"ok"`
		Destroyed int  `json:"destroyed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &dr); err != nil || !dr.OK || dr.Destroyed == 0 {
		t.Fatalf("destroy: %s err=%v", rec.Body.String(), err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	if err := os.MkdirAll(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := latestSnapshot(dir); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
	for _, name := range []string{"90.snap.zst", "1200.snap.zst", "300.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(snaps, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if got := latestSnapshot(dir); filepath.Base(got) != "1200.snap.zst" {
		t.Fatalf("latest: %q", got)
	}
}

func TestMultiTickLoggerFansOut(t *testing.T) {
	var a, b recordingLogger
	m := multiTickLogger{&a, &b}
	_ = m.WriteTick(world.TickLogEntry{Tick: 3})
	_ = multiTickLogger{a: &a}.WriteTick(world.TickLogEntry{Tick: 4})
	if len(a.ticks) != 2 || len(b.ticks) != 1 || b.ticks[0] != 3 {
		t.Fatalf("a=%v b=%v", a.ticks, b.ticks)
	}
}

type recordingLogger struct{ ticks []uint64 }

func (r *recordingLogger) WriteTick(e world.TickLogEntry) error {
	r.ticks = append(r.ticks, e.Tick)
	return nil
}
