package datalink

import "github.com/danmuck/integractl/internal/protocol/schema"

const TypeStxEtxCrc = "DatalinkStxEtxCrcSendAckSeqCounter"

var factory = schema.NewRegistry[*Link]("datalink", KeyDatalink)

func init() {
	factory.MustRegister(schema.Descriptor[*Link]{
		Name:     TypeStxEtxCrc,
		Group:    "Framed",
		Required: []string{KeyDatalink},
		Optional: []string{
			KeyAckTimeout, KeyAckMaxRetries, KeyKeepAliveInterval,
			KeyDuplicateCheck, KeyMaskNonASCII, KeySynBytes, KeySequenceModulus,
		},
		Validate: func(opts map[string]string) error {
			_, err := ParseConfig(opts)
			return err
		},
		New: func(opts map[string]string) (*Link, error) {
			cfg, err := ParseConfig(opts)
			if err != nil {
				return nil, err
			}
			return NewLink(cfg), nil
		},
	})
}

func List() []string { return factory.List() }

func OptionsFor(typ string) ([]string, error) { return factory.OptionsFor(typ) }

func OptionalFor(typ string) ([]string, error) { return factory.OptionalFor(typ) }

func TypeOf(opts map[string]string) (string, error) { return factory.TypeOf(opts) }

func ValidateOptions(opts map[string]string) error { return factory.ValidateOptions(opts) }

// New validates opts and builds an unbound link.
func New(opts map[string]string) (*Link, error) { return factory.New(opts) }
