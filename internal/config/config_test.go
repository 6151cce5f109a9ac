package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsFileAndDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "loopcast.yaml")
	yaml := `
app:
  log_level: debug
store:
  base_url: http://store.example
ingest:
  feeds:
    - https://example.com/rss
  schedule_times:
    - "08:00"
    - "20:30"
hosts:
  - name: Ada
    voice: ada.wav
    categories: [Tech]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.App.LogLevel)
	}
	if cfg.Store.BaseURL != "http://store.example" {
		t.Errorf("store base url = %q", cfg.Store.BaseURL)
	}
	// Defaults fill in everything the file omits.
	if cfg.LLM.BaseURL == "" || cfg.TTS.SampleRate == 0 {
		t.Errorf("defaults not applied: llm=%q rate=%d", cfg.LLM.BaseURL, cfg.TTS.SampleRate)
	}
	if cfg.Pipeline.MinClusters != 10 {
		t.Errorf("min clusters = %d, want 10", cfg.Pipeline.MinClusters)
	}
	if len(cfg.Ingest.ScheduleTimes) != 2 {
		t.Errorf("schedule times = %v", cfg.Ingest.ScheduleTimes)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0].Name != "Ada" {
		t.Errorf("hosts = %+v", cfg.Hosts)
	}
}

func TestLoadRejectsBadScheduleTime(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "loopcast.yaml")
	yaml := `
store:
  base_url: http://store.example
ingest:
  schedule_times: ["25:99"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid schedule time")
	}
}

func TestDurationHelpersFallBack(t *testing.T) {
	if got := (Pipeline{MaxWait: "bogus"}).MaxWaitDuration(); got != 6*time.Hour {
		t.Errorf("MaxWaitDuration = %v, want 6h", got)
	}
	if got := (Pipeline{MaxWait: "90m"}).MaxWaitDuration(); got != 90*time.Minute {
		t.Errorf("MaxWaitDuration = %v, want 90m", got)
	}
	if got := (LLM{Timeout: ""}).TimeoutDuration(); got != 120*time.Second {
		t.Errorf("TimeoutDuration = %v, want 120s", got)
	}
	if got := (LLM{CacheTTL: "24h"}).CacheTTLDuration(); got != 24*time.Hour {
		t.Errorf("CacheTTLDuration = %v, want 24h", got)
	}
	if got := (LLM{CacheTTL: "-1h"}).CacheTTLDuration(); got != 168*time.Hour {
		t.Errorf("CacheTTLDuration = %v, want 168h fallback", got)
	}
}

func TestHostFor(t *testing.T) {
	hosts := []Host{
		{Name: "Ada", Voice: "ada.wav", Categories: []string{"Tech", "Gaming"}},
		{Name: "Ben", Voice: "ben.wav", Categories: []string{"Economy"}},
	}
	if h, ok := HostFor(hosts, "Gaming"); !ok || h.Name != "Ada" {
		t.Errorf("HostFor(Gaming) = %+v, %v", h, ok)
	}
	if h, ok := HostFor(hosts, "Economy"); !ok || h.Name != "Ben" {
		t.Errorf("HostFor(Economy) = %+v, %v", h, ok)
	}
	if _, ok := HostFor(hosts, "Sports"); ok {
		t.Error("HostFor(Sports) should miss")
	}
}
