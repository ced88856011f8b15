package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	"github.com/danmuck/integractl/internal/fleet"
	"github.com/danmuck/integractl/internal/protocol/session"
)

// FleetConfig is the on-disk description of a terminal fleet.
type FleetConfig struct {
	Name        string
	MetricsAddr string
	// AdminToken, when set, is required as a bearer token on /terminals.
	AdminToken  string
	Session     session.Config
	Terminals   []TerminalConfig
}

type TerminalConfig struct {
	Name      string            `toml:"name"`
	Reconnect bool              `toml:"reconnect"`
	Channel   map[string]string `toml:"channel"`
	Datalink  map[string]string `toml:"datalink"`
}

type fileConfig struct {
	Name                 string           `toml:"name"`
	MetricsAddr          string           `toml:"metrics_addr"`
	AdminToken           string           `toml:"admin_token"`
	MaxReconnectAttempts int              `toml:"max_reconnect_attempts"`
	BackoffInitial       string           `toml:"backoff_initial"`
	BackoffMax           string           `toml:"backoff_max"`
	BackoffMultiplier    float64          `toml:"backoff_multiplier"`
	BackoffJitter        bool             `toml:"backoff_jitter"`
	Terminals            []TerminalConfig `toml:"terminals"`
}

func DefaultFleetConfig() FleetConfig {
	return FleetConfig{
		Name:        "integractl",
		MetricsAddr: ":9400",
		Session:     session.DefaultConfig(),
	}
}

// LoadFleetConfig decodes path over DefaultFleetConfig and validates the result.
func LoadFleetConfig(path string) (FleetConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return FleetConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FleetConfig{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}
	cfg, err := fromFile(raw, meta)
	if err != nil {
		return FleetConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateFleetConfig(cfg); err != nil {
		return FleetConfig{}, err
	}
	return cfg, nil
}

func fromFile(raw fileConfig, meta toml.MetaData) (FleetConfig, error) {
	cfg := DefaultFleetConfig()
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("max_reconnect_attempts") {
		cfg.Session.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	if meta.IsDefined("backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffInitial))
		if err != nil {
			return FleetConfig{}, fmt.Errorf("parse backoff_initial: %w", err)
		}
		cfg.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffMax))
		if err != nil {
			return FleetConfig{}, fmt.Errorf("parse backoff_max: %w", err)
		}
		cfg.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Session.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Session.Backoff.Jitter = raw.BackoffJitter
	}
	cfg.Terminals = raw.Terminals
	for i := range cfg.Terminals {
		cfg.Terminals[i].Name = strings.TrimSpace(cfg.Terminals[i].Name)
		if cfg.Terminals[i].Datalink == nil {
			cfg.Terminals[i].Datalink = map[string]string{datalink.KeyDatalink: datalink.TypeStxEtxCrc}
		}
	}
	return cfg, nil
}

func ValidateFleetConfig(cfg FleetConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("fleet config missing name")
	}
	if len(cfg.Terminals) == 0 {
		return fmt.Errorf("fleet config has no terminals")
	}
	if cfg.Session.Backoff.InitialDelay <= 0 {
		return fmt.Errorf("fleet config backoff_initial must be positive")
	}
	if cfg.Session.Backoff.MaxDelay < cfg.Session.Backoff.InitialDelay {
		return fmt.Errorf("fleet config backoff_max below backoff_initial")
	}
	if cfg.Session.MaxReconnectAttempts < 0 {
		return fmt.Errorf("fleet config max_reconnect_attempts must not be negative")
	}
	seen := make(map[string]bool, len(cfg.Terminals))
	for i, term := range cfg.Terminals {
		if err := ValidateTerminal(term); err != nil {
			return fmt.Errorf("terminal[%d] invalid: %w", i, err)
		}
		if seen[term.Name] {
			return fmt.Errorf("terminal[%d] invalid: duplicate name %s", i, term.Name)
		}
		seen[term.Name] = true
	}
	return nil
}

// ValidateTerminal checks a terminal entry against the channel and datalink schemas.
func ValidateTerminal(term TerminalConfig) error {
	if term.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := channel.ValidateOptions(term.Channel); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if err := datalink.ValidateOptions(term.Datalink); err != nil {
		return fmt.Errorf("datalink: %w", err)
	}
	return nil
}

// Specs converts the terminal entries for fleet.New.
func (c FleetConfig) Specs() []fleet.Spec {
	out := make([]fleet.Spec, 0, len(c.Terminals))
	for _, term := range c.Terminals {
		out = append(out, fleet.Spec{
			Name:      term.Name,
			Channel:   term.Channel,
			Datalink:  term.Datalink,
			Reconnect: term.Reconnect,
		})
	}
	return out
}
