// Package config loads the TOML configuration and centralizes every default
// the components consume, so call sites never repeat inline literals.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Sync groups the tunables of the availability pipeline. All zero values are
// filled by Normalize.
type Sync struct {
	SlotMinutes              int `toml:"slot_minutes"`
	DefaultEventMinutes      int `toml:"default_event_minutes"`
	MinConflictWindowMinutes int `toml:"min_conflict_window_minutes"`
	HorizonDays              int `toml:"horizon_days"`
	CooldownHours            int `toml:"cooldown_hours"`
	SweepPageSize            int `toml:"sweep_page_size"`
	TokenExpiryMarginSeconds int `toml:"token_expiry_margin_seconds"`
	StateTTLMinutes          int `toml:"state_ttl_minutes"`
	ConsentTimeoutMinutes    int `toml:"consent_timeout_minutes"`
	ConsentPollDelaySeconds  int `toml:"consent_poll_delay_seconds"`
}

type Config struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	StateSecret  string `toml:"state_secret"`
	DBPath       string `toml:"db_path"`
	Listen       string `toml:"listen"`
	SweepCron    string `toml:"sweep_cron"`

	VerbosityLevel int `toml:"verbosity_level"`

	Sync Sync `toml:"sync"`
}

// Read loads the config, trying the given path first and falling back to
// $HOME/.config/orasync/.
func Read(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		data, err = os.ReadFile(os.Getenv("HOME") + "/.config/orasync/" + filename)
		if err != nil {
			return nil, err
		}
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	config.Normalize()
	return &config, nil
}

// Normalize fills missing values with defaults so partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.DBPath == "" {
		c.DBPath = ".orasync.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.SweepCron == "" {
		c.SweepCron = "0 * * * *"
	}
	s := &c.Sync
	if s.SlotMinutes <= 0 {
		s.SlotMinutes = 30
	}
	if s.DefaultEventMinutes <= 0 {
		s.DefaultEventMinutes = 60
	}
	if s.MinConflictWindowMinutes <= 0 {
		s.MinConflictWindowMinutes = 15
	}
	if s.HorizonDays <= 0 {
		s.HorizonDays = 14
	}
	if s.CooldownHours <= 0 {
		s.CooldownHours = 6
	}
	if s.SweepPageSize <= 0 {
		s.SweepPageSize = 250
	}
	if s.TokenExpiryMarginSeconds <= 0 {
		s.TokenExpiryMarginSeconds = 60
	}
	if s.StateTTLMinutes <= 0 {
		s.StateTTLMinutes = 10
	}
	if s.ConsentTimeoutMinutes <= 0 {
		s.ConsentTimeoutMinutes = 5
	}
	if s.ConsentPollDelaySeconds <= 0 {
		s.ConsentPollDelaySeconds = 2
	}
}

func (s Sync) DefaultEventDuration() time.Duration {
	return time.Duration(s.DefaultEventMinutes) * time.Minute
}

func (s Sync) MinConflictWindow() time.Duration {
	return time.Duration(s.MinConflictWindowMinutes) * time.Minute
}

func (s Sync) Cooldown() time.Duration {
	return time.Duration(s.CooldownHours) * time.Hour
}

func (s Sync) TokenExpiryMargin() time.Duration {
	return time.Duration(s.TokenExpiryMarginSeconds) * time.Second
}

func (s Sync) StateTTL() time.Duration {
	return time.Duration(s.StateTTLMinutes) * time.Minute
}

func (s Sync) ConsentTimeout() time.Duration {
	return time.Duration(s.ConsentTimeoutMinutes) * time.Minute
}

func (s Sync) ConsentPollDelay() time.Duration {
	return time.Duration(s.ConsentPollDelaySeconds) * time.Second
}
