package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Tracking.DeviationThresholdM != 50 {
		t.Fatalf("threshold = %v", cfg.Tracking.DeviationThresholdM)
	}
	if cfg.PeriodicInterval() != 5*time.Minute {
		t.Fatalf("interval = %v", cfg.PeriodicInterval())
	}
	if cfg.Tracking.StopPingThreshold != 0 {
		t.Fatalf("stop detection should default to disabled")
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  addr: \":9000\"\ntracking:\n  deviation_threshold_m: 75\n  stop_ping_threshold: 4\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9100" {
		t.Fatalf("env must override file, addr = %q", cfg.Server.Addr)
	}
	if cfg.Tracking.DeviationThresholdM != 75 || cfg.Tracking.StopPingThreshold != 4 {
		t.Fatalf("tracking = %+v", cfg.Tracking)
	}
}

func TestLoadMissingFileOK(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
}

func TestSummaryLocation(t *testing.T) {
	cfg := &Config{}
	cfg.Summary.Timezone = "UTC"
	if cfg.SummaryLocation() != time.UTC {
		t.Fatalf("expected UTC")
	}
	cfg.Summary.Timezone = "Not/AZone"
	if cfg.SummaryLocation() != time.Local {
		t.Fatalf("bad zone should fall back to local")
	}
}
