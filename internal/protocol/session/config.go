package session

import (
	"time"

	"github.com/danmuck/integractl/internal/channel"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session reliability behavior. Reconnect is off by default;
// when enabled Redial builds the replacement channel.
type Config struct {
	Label                string
	Reconnect            bool
	MaxReconnectAttempts int
	Backoff              BackoffConfig
	Redial               func() (channel.Channel, error)
}

func DefaultConfig() Config {
	return Config{
		Label: "session",
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}
