package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the full bot configuration. Durations are strings ("30m", "10s")
// parsed by the consumers via ParseDurationOrDefault.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Provider ProviderConfig `json:"provider"`
	Poll     PollConfig     `json:"poll"`
	Scoring  ScoringConfig  `json:"scoring"`
	Announce AnnounceConfig `json:"announce"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	AnnounceChat int64   `json:"announce_chat"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// PollConfig holds the trigger cadences (cron specs) and the poller knobs.
// The cadences are fixed and few; this is not a general scheduler surface.
type PollConfig struct {
	TickSpec     string `json:"tick_spec,omitempty"`
	ActivitySpec string `json:"activity_spec,omitempty"`
	DailySpec    string `json:"daily_spec,omitempty"`
	WeeklySpec   string `json:"weekly_spec,omitempty"`
	MonthlySpec  string `json:"monthly_spec,omitempty"`
	Timezone     string `json:"timezone,omitempty"`

	// InactiveInterval is how often INACTIVE users are re-checked. Must be a
	// multiple of the tick interval in practice; enforced as ">= 15m" here.
	InactiveInterval string `json:"inactive_interval,omitempty"`
	// ActiveWindow is how recent a play signal must be for ACTIVE.
	ActiveWindow string `json:"active_window,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

type ScoringConfig struct {
	Points PointsConfig `json:"points"`
}

type PointsConfig struct {
	Participation int `json:"participation,omitempty"`
	Beaten        int `json:"beaten,omitempty"`
	Mastered      int `json:"mastered,omitempty"`
}

type AnnounceConfig struct {
	Enabled    bool `json:"enabled"`
	QueueSize  int  `json:"queue_size,omitempty"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate rejects configs that cannot produce a working bot. Called before
// commit on both initial load and hot reload.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return errors.New("provider.base_url is required")
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return errors.New("provider.api_key is required")
	}
	if _, err := ParseDurationField("poll.inactive_interval", c.Poll.InactiveInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("poll.active_window", c.Poll.ActiveWindow); err != nil {
		return err
	}
	if _, err := ParseDurationField("poll.fetch_timeout", c.Poll.FetchTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("provider.timeout", c.Provider.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	p := c.Scoring.Points
	if p.Participation < 0 || p.Beaten < 0 || p.Mastered < 0 {
		return errors.New("scoring.points: values must be >= 0")
	}
	if (p.Participation | p.Beaten | p.Mastered) != 0 {
		// A partially specified scheme is almost always a mistake.
		if p.Participation > p.Beaten || p.Beaten > p.Mastered {
			return fmt.Errorf("scoring.points: scheme must be non-decreasing (got %d/%d/%d)",
				p.Participation, p.Beaten, p.Mastered)
		}
	}
	return nil
}
