package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8087" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Detective.EntryClass != "hentry" {
		t.Errorf("entry class: got %q", cfg.Detective.EntryClass)
	}
	if len(cfg.Detective.Breakpoints) != 3 || cfg.Detective.SampleSize != 3 {
		t.Errorf("detective: got %+v", cfg.Detective)
	}
	if cfg.HTTP.StoreLockTTL != time.Minute {
		t.Errorf("store lock ttl: got %v", cfg.HTTP.StoreLockTTL)
	}
	if got := cfg.HTTP.StoreLockTrusted; len(got) != 2 || got[0] != "127.0.0.0/8" {
		t.Errorf("store lock trusted: got %v", got)
	}
}

func TestParse_StoreLockTrusted(t *testing.T) {
	cfg, err := Parse([]byte("http:\n  store_lock_trusted: []\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.HTTP.StoreLockTrusted) != 0 {
		t.Errorf("explicit empty list replaced: %v", cfg.HTTP.StoreLockTrusted)
	}
	if _, err := Parse([]byte("http:\n  store_lock_trusted: [\"10.0.0.0/33\"]\n")); err == nil {
		t.Error("invalid prefix accepted")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contentvis.yaml")
	data := `
listen: "127.0.0.1:9000"
base_url: "https://cv.example.com"
detective:
  breakpoints: [600, 1024]
  sample_size: 5
http:
  allowed_origins: ["https://blog.example.com"]
  store_lock_ttl: 30s
sampler:
  settle: 500ms
  stealth: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.BaseURL != "https://cv.example.com" {
		t.Errorf("got listen=%q base=%q", cfg.Listen, cfg.BaseURL)
	}
	if got := cfg.Detective.Breakpoints; len(got) != 2 || got[0] != 600 || got[1] != 1024 {
		t.Errorf("breakpoints: got %v", got)
	}
	if cfg.HTTP.StoreLockTTL != 30*time.Second {
		t.Errorf("store lock ttl: got %v", cfg.HTTP.StoreLockTTL)
	}
	if cfg.Sampler.Settle != 500*time.Millisecond || !cfg.Sampler.Stealth {
		t.Errorf("sampler: got %+v", cfg.Sampler)
	}
	if cfg.Metrics.RetentionDays != 30 {
		t.Errorf("retention default: got %d", cfg.Metrics.RetentionDays)
	}
	if cfg.Metrics.AuditRetentionDays != 90 || cfg.Metrics.HeartbeatInterval != 15*time.Second || cfg.Metrics.HeartbeatRetentionDays != 7 {
		t.Errorf("audit/heartbeat defaults: got %+v", cfg.Metrics)
	}
}

func TestParse_InvalidBreakpoints(t *testing.T) {
	cases := []string{
		"detective: {breakpoints: [800, 400]}",
		"detective: {breakpoints: [400, 400]}",
		"detective: {breakpoints: [-1]}",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Errorf("%s: expected error", c)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
