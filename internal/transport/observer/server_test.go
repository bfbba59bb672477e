package observer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/observerproto"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func newTestServer(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	tu := tuning.Defaults()
	tu.Traffic.NumCars = 30
	w, err := world.New(world.Config{TickRateHz: 50}, tu, log)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	s := NewServer(w, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return w, srv
}

func TestBootstrap(t *testing.T) {
	w, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.RunID != w.RunID() {
		t.Fatalf("bootstrap: %+v", b)
	}
	if len(b.Layout.Cities) != w.Tuning().Network.Cities || b.WorldParams.TickRateHz != 50 {
		t.Fatalf("layout cities=%d hz=%d", len(b.Layout.Cities), b.WorldParams.TickRateHz)
	}

	resp2, err := http.Post(srv.URL+"/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status: %d", resp2.StatusCode)
	}
}

func TestWSStreamsFrames(t *testing.T) {
	w, srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last uint64
	for i := 0; i < 3; i++ {
		typ, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ != websocket.BinaryMessage {
			t.Fatalf("message type %d", typ)
		}
		msg, err := observerproto.DecodeFrame(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != "FRAME" || len(msg.Cars) == 0 {
			t.Fatalf("frame: type=%s cars=%d", msg.Type, len(msg.Cars))
		}
		if i > 0 && msg.Tick <= last {
			t.Fatalf("ticks not increasing: %d after %d", msg.Tick, last)
		}
		last = msg.Tick
	}
}

func TestWSRejectsBadHandshake(t *testing.T) {
	_, srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	sub := observerproto.SubscribeMsg{EveryTicks: -3, Region: [4]float64{10, 20, 0, 5}}
	normalizeSubscribe(&sub)
	if sub.EveryTicks != 1 || sub.Region != [4]float64{0, 5, 10, 20} {
		t.Fatalf("normalized: %+v", sub)
	}
	if !isLoopbackRemote("127.0.0.1:5555") || !isLoopbackRemote("[::1]:80") || isLoopbackRemote("10.0.0.1:80") {
		t.Fatalf("loopback detection")
	}
}
