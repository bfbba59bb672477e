package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ConfigsTuningYAML(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.Traffic.ConnectorSpeedMult != 2 {
		t.Fatalf("connector_speed_mult: got %v want 2", tu.Traffic.ConnectorSpeedMult)
	}
	if tu.Aerial.DestAttempts != 20 {
		t.Fatalf("dest_attempts: got %d want 20", tu.Aerial.DestAttempts)
	}
	if tu.Traffic.MaxCarsInFrontScan != 50 || tu.Traffic.MaxQueueScan != 1000 {
		t.Fatalf("scan caps: got %d/%d", tu.Traffic.MaxCarsInFrontScan, tu.Traffic.MaxQueueScan)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu != Defaults() {
		t.Fatalf("empty path should return defaults")
	}
}

func TestLoad_PartialOverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("traffic:\n  num_cars: 12\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Traffic.NumCars != 12 {
		t.Fatalf("num_cars: got %d want 12", tu.Traffic.NumCars)
	}
	if tu.Traffic.RoadWidth != Defaults().Traffic.RoadWidth {
		t.Fatalf("road_width should keep default, got %v", tu.Traffic.RoadWidth)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("network:\n  grid_x: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for 1-wide grid")
	}
}

func TestValidate_RejectsNonPositiveHelicopterWaits(t *testing.T) {
	for name, mut := range map[string]func(*Tuning){
		"wait_min_zero":     func(tu *Tuning) { tu.Aerial.WaitMinSecs = 0 },
		"wait_max_negative": func(tu *Tuning) { tu.Aerial.WaitMinSecs, tu.Aerial.WaitMaxSecs = -2, -1 },
		"initial_min_zero":  func(tu *Tuning) { tu.Aerial.InitialWaitMin = 0 },
		"initial_max_zero":  func(tu *Tuning) { tu.Aerial.InitialWaitMin, tu.Aerial.InitialWaitMax = 0, 0 },
	} {
		tu := Defaults()
		mut(&tu)
		if err := tu.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults: %v", err)
	}
}

func TestNormalize_SwapsInvertedRanges(t *testing.T) {
	tu := Defaults()
	tu.Aerial.WaitMinSecs = 50
	tu.Aerial.WaitMaxSecs = 10
	tu.Network.ConnectorRow = 99
	tu.Normalize()
	if tu.Aerial.WaitMaxSecs != 50 {
		t.Fatalf("wait max: got %v want 50", tu.Aerial.WaitMaxSecs)
	}
	if tu.Network.ConnectorRow != tu.Network.GridY-1 {
		t.Fatalf("connector row not clamped: %d", tu.Network.ConnectorRow)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
