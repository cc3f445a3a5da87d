package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if *cfg != def {
		t.Errorf("missing file config = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
poll:
  interval_ms: 5000
notify:
  default_language: zh
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.IntervalMS != 5000 {
		t.Errorf("IntervalMS = %d, want 5000", cfg.Poll.IntervalMS)
	}
	if cfg.Notify.DefaultLanguage != "zh" {
		t.Errorf("DefaultLanguage = %q, want zh", cfg.Notify.DefaultLanguage)
	}
	// Untouched sections keep their defaults.
	if cfg.Poll.Concurrency != Default().Poll.Concurrency {
		t.Errorf("Concurrency = %d, want default", cfg.Poll.Concurrency)
	}
	if cfg.Retention.RecentTxCap != Default().Retention.RecentTxCap {
		t.Errorf("RecentTxCap = %d, want default", cfg.Retention.RecentTxCap)
	}
}

// Zero is a real setting for the send delays and the minimum amount; an
// explicit zero in yaml must survive loading.
func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
poll:
  send_delay_min_ms: 0
  send_delay_max_ms: 0
notify:
  default_min_amount: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.SendDelayMinMS != 0 || cfg.Poll.SendDelayMaxMS != 0 {
		t.Errorf("send delays = %d/%d, want 0/0",
			cfg.Poll.SendDelayMinMS, cfg.Poll.SendDelayMaxMS)
	}
	if cfg.Notify.DefaultMinAmount != 0 {
		t.Errorf("DefaultMinAmount = %v, want 0", cfg.Notify.DefaultMinAmount)
	}
}

func TestLoadSanitizesInvalidZeros(t *testing.T) {
	path := writeConfig(t, `
poll:
  interval_ms: 0
server:
  port: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.IntervalMS != Default().Poll.IntervalMS {
		t.Errorf("IntervalMS = %d, want default", cfg.Poll.IntervalMS)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfig(t, "poll: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
