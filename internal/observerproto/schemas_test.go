package observerproto_test

import (
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"citytraffic.ai/internal/observerproto"
	"citytraffic.ai/internal/sim/tuning"
	"citytraffic.ai/internal/sim/world"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through JSON so the validator sees what clients see.
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(doc); err != nil {
			t.Fatalf("validate: %v\n%s", err, b)
		}
	}

	subSchema := compile("subscribe.schema.json")
	bootSchema := compile("bootstrap.schema.json")
	tickSchema := compile("tick_log_entry.schema.json")

	validate(subSchema, observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		Region:          [4]float64{0, 0, 100, 50},
		EveryTicks:      4,
		Peds:            true,
	})

	log := logrus.New()
	log.SetOutput(io.Discard)
	tu := tuning.Defaults()
	tu.Traffic.NumCars = 20
	w, err := world.New(world.Config{}, tu, log)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	validate(bootSchema, w.Bootstrap())

	validate(tickSchema, world.TickLogEntry{
		Tick:    12,
		Frame:   24,
		Elapsed: 0.6,
		Stats:   world.FrameStats{Moving: 30, Parked: 8, Removed: 1, HelicoptersFlying: 1},
		Flights: []world.FlightEvent{{Heli: 0, Kind: world.FlightLanded, FromPad: -1, ToPad: 3}},
		Horns:   2,
	})

	var bad any
	_ = json.Unmarshal([]byte(`{"type":"HELLO","protocol_version":"1.0"}`), &bad)
	if err := subSchema.Validate(bad); err == nil {
		t.Fatalf("expected HELLO to fail SUBSCRIBE schema")
	}
}
