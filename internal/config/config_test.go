package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  announce_chat: -100200300
  admin_user_ids: [42]
provider:
  base_url: "https://ra.example/API"
  api_key: "k"
  timeout: "10s"
poll:
  inactive_interval: "30m"
  active_window: "24h"
scoring:
  points:
    participation: 1
    beaten: 4
    mastered: 7
announce:
  enabled: true
logging:
  console: true
storage:
  driver: "memory"
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "bot.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.AnnounceChat != -100200300 {
		t.Fatalf("announce_chat = %d", cfg.Telegram.AnnounceChat)
	}
	if cfg.Scoring.Points.Mastered != 7 {
		t.Fatalf("points.mastered = %d", cfg.Scoring.Points.Mastered)
	}
	d, err := ParseDurationOrDefault("poll.inactive_interval", cfg.Poll.InactiveInterval, 15*time.Minute)
	if err != nil || d != 30*time.Minute {
		t.Fatalf("inactive_interval = %v, %v", d, err)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "bot.yaml", sampleYAML+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }},
		{"missing base url", func(c *Config) { c.Provider.BaseURL = "" }},
		{"bad duration", func(c *Config) { c.Poll.InactiveInterval = "soon" }},
		{"negative points", func(c *Config) { c.Scoring.Points.Beaten = -1 }},
		{"decreasing scheme", func(c *Config) { c.Scoring.Points.Participation = 9 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeTemp(t, "bot.yaml", sampleYAML))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			bad := *cfg
			tt.mutate(&bad)
			if err := bad.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5m"); err == nil {
		t.Fatal("expected negative duration to be rejected")
	}
}
