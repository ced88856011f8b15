package channel

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/integractl/internal/protocol/schema"
	"go.bug.st/serial"
)

// Registered channel type names.
const (
	TypeSocketClient    = "ChannelSocketClient"
	TypeTLSSocketClient = "ChannelTlsSocketClient"
	TypeSerial          = "ChannelSerial"
)

// Option keys.
const (
	KeyChannel               = "Channel"
	KeyHost                  = "Host"
	KeyPort                  = "Port"
	KeyTimeout               = "Timeout"
	KeyTLSCAFile             = "TlsCaFile"
	KeyTLSCertFile           = "TlsCertFile"
	KeyTLSKeyFile            = "TlsKeyFile"
	KeyTLSServerName         = "TlsServerName"
	KeyTLSInsecureSkipVerify = "TlsInsecureSkipVerify"
	KeyDevice                = "Device"
	KeyBaudRate              = "BaudRate"
	KeyDataBits              = "DataBits"
	KeyParity                = "Parity"
	KeyStopBits              = "StopBits"
)

const DefaultBaudRate = 9600

var factory = schema.NewRegistry[Channel]("channel", KeyChannel)

func init() {
	factory.MustRegister(schema.Descriptor[Channel]{
		Name:     TypeSocketClient,
		Group:    "Socket",
		Required: []string{KeyChannel, KeyHost, KeyPort},
		Optional: []string{KeyTimeout},
		Validate: func(opts map[string]string) error {
			_, _, err := socketOptions(opts)
			return err
		},
		New: func(opts map[string]string) (Channel, error) {
			addr, timeout, err := socketOptions(opts)
			if err != nil {
				return nil, err
			}
			return NewStream(TypeSocketClient, opts, timeout, socketDialer(addr, timeout)), nil
		},
	})
	factory.MustRegister(schema.Descriptor[Channel]{
		Name:     TypeTLSSocketClient,
		Group:    "Socket",
		Required: []string{KeyChannel, KeyHost, KeyPort},
		Optional: []string{KeyTimeout, KeyTLSCAFile, KeyTLSCertFile, KeyTLSKeyFile, KeyTLSServerName, KeyTLSInsecureSkipVerify},
		Validate: func(opts map[string]string) error {
			if _, _, err := socketOptions(opts); err != nil {
				return err
			}
			tlsOpts, err := tlsOptions(opts)
			if err != nil {
				return err
			}
			return tlsOpts.Validate()
		},
		New: func(opts map[string]string) (Channel, error) {
			addr, timeout, err := socketOptions(opts)
			if err != nil {
				return nil, err
			}
			tlsOpts, err := tlsOptions(opts)
			if err != nil {
				return nil, err
			}
			return NewStream(TypeTLSSocketClient, opts, timeout, tlsDialer(addr, timeout, tlsOpts)), nil
		},
	})
	factory.MustRegister(schema.Descriptor[Channel]{
		Name:     TypeSerial,
		Group:    "Serial",
		Required: []string{KeyChannel, KeyDevice},
		Optional: []string{KeyBaudRate, KeyDataBits, KeyParity, KeyStopBits, KeyTimeout},
		Validate: func(opts map[string]string) error {
			_, _, err := serialOptions(opts)
			return err
		},
		New: func(opts map[string]string) (Channel, error) {
			mode, timeout, err := serialOptions(opts)
			if err != nil {
				return nil, err
			}
			return NewStream(TypeSerial, opts, timeout, serialDialer(mode)), nil
		},
	})
}

// List returns the registered channel types.
func List() []string { return factory.List() }

// OptionsFor returns the required option keys of a channel type in declared order.
func OptionsFor(typ string) ([]string, error) { return factory.OptionsFor(typ) }

// OptionalFor returns the optional option keys of a channel type.
func OptionalFor(typ string) ([]string, error) { return factory.OptionalFor(typ) }

// TypeOf returns the canonical channel type named by opts.
func TypeOf(opts map[string]string) (string, error) { return factory.TypeOf(opts) }

// ValidateOptions reports the first missing required key or the first unusable value.
func ValidateOptions(opts map[string]string) error { return factory.ValidateOptions(opts) }

// New validates opts and builds an unopened channel.
func New(opts map[string]string) (Channel, error) { return factory.New(opts) }

func socketOptions(opts map[string]string) (string, time.Duration, error) {
	host := schema.String(opts, KeyHost, "")
	port, err := schema.Int(opts, KeyPort, 0, 1, 65535)
	if err != nil {
		return "", 0, err
	}
	timeout, err := schema.Duration(opts, KeyTimeout, DefaultTimeout, time.Second, 3600)
	if err != nil {
		return "", 0, err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), timeout, nil
}

func tlsOptions(opts map[string]string) (TLSOptions, error) {
	skip, err := schema.Bool(opts, KeyTLSInsecureSkipVerify, false)
	if err != nil {
		return TLSOptions{}, err
	}
	return TLSOptions{
		CAFile:             schema.String(opts, KeyTLSCAFile, ""),
		CertFile:           schema.String(opts, KeyTLSCertFile, ""),
		KeyFile:            schema.String(opts, KeyTLSKeyFile, ""),
		ServerName:         schema.String(opts, KeyTLSServerName, ""),
		InsecureSkipVerify: skip,
	}, nil
}

func serialOptions(opts map[string]string) (SerialMode, time.Duration, error) {
	mode := SerialMode{Device: schema.String(opts, KeyDevice, "")}
	var err error
	if mode.BaudRate, err = schema.Int(opts, KeyBaudRate, DefaultBaudRate, 50, 4000000); err != nil {
		return SerialMode{}, 0, err
	}
	if mode.DataBits, err = schema.Int(opts, KeyDataBits, 8, 5, 8); err != nil {
		return SerialMode{}, 0, err
	}
	switch p := strings.ToUpper(schema.String(opts, KeyParity, "N")); p {
	case "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return SerialMode{}, 0, &schema.InvalidValueError{Key: KeyParity, Value: p, Reason: "expected N, E or O"}
	}
	switch s := schema.String(opts, KeyStopBits, "1"); s {
	case "1":
		mode.StopBits = serial.OneStopBit
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return SerialMode{}, 0, &schema.InvalidValueError{Key: KeyStopBits, Value: s, Reason: "expected 1 or 2"}
	}
	timeout, err := schema.Duration(opts, KeyTimeout, DefaultTimeout, time.Second, 3600)
	if err != nil {
		return SerialMode{}, 0, err
	}
	return mode, timeout, nil
}
