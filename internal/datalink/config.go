package datalink

import (
	"time"

	"github.com/danmuck/integractl/internal/protocol/schema"
)

// Option keys of DatalinkStxEtxCrcSendAckSeqCounter.
const (
	KeyDatalink          = "Datalink"
	KeyAckTimeout        = "AckTimeout"
	KeyAckMaxRetries     = "AckMaxRetries"
	KeyKeepAliveInterval = "KeepAliveInterval"
	KeyDuplicateCheck    = "DuplicateCheck"
	KeyMaskNonASCII      = "MaskNonAscii"
	KeySynBytes          = "SynBytes"
	KeySequenceModulus   = "SequenceModulus"
)

// Config is the parsed option set of a Link.
type Config struct {
	AckTimeout        time.Duration
	AckMaxRetries     int
	KeepAliveInterval time.Duration
	DuplicateCheck    bool
	MaskNonASCII      bool
	SynBytes          int
	SequenceModulus   int
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:      7 * time.Second,
		AckMaxRetries:   3,
		DuplicateCheck:  true,
		SequenceModulus: 256,
	}
}

// SilenceTimeout is how long the peer may stay quiet before the link is declared dead.
func (c Config) SilenceTimeout() time.Duration {
	return 3 * c.KeepAliveInterval
}

// MaxSendDuration bounds one Send: every attempt waits a full AckTimeout.
func (c Config) MaxSendDuration() time.Duration {
	return time.Duration(c.AckMaxRetries+1) * c.AckTimeout
}

// ParseConfig reads opts over DefaultConfig. Unusable values are InvalidOptions.
func ParseConfig(opts map[string]string) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if cfg.AckTimeout, err = schema.Duration(opts, KeyAckTimeout, cfg.AckTimeout, time.Millisecond, 600000); err != nil {
		return Config{}, err
	}
	if cfg.AckTimeout <= 0 {
		return Config{}, &schema.InvalidValueError{Key: KeyAckTimeout, Value: opts[KeyAckTimeout], Reason: "must be positive"}
	}
	if cfg.AckMaxRetries, err = schema.Int(opts, KeyAckMaxRetries, cfg.AckMaxRetries, 0, 100); err != nil {
		return Config{}, err
	}
	if cfg.KeepAliveInterval, err = schema.Duration(opts, KeyKeepAliveInterval, 0, time.Second, 3600); err != nil {
		return Config{}, err
	}
	if cfg.DuplicateCheck, err = schema.Bool(opts, KeyDuplicateCheck, cfg.DuplicateCheck); err != nil {
		return Config{}, err
	}
	if cfg.MaskNonASCII, err = schema.Bool(opts, KeyMaskNonASCII, cfg.MaskNonASCII); err != nil {
		return Config{}, err
	}
	if cfg.SynBytes, err = schema.Int(opts, KeySynBytes, cfg.SynBytes, 0, 16); err != nil {
		return Config{}, err
	}
	if cfg.SequenceModulus, err = schema.Int(opts, KeySequenceModulus, cfg.SequenceModulus, 2, 65536); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
