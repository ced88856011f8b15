package channel

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/danmuck/integractl/internal/protocol"
)

var (
	ErrTLSCAFileRequired   = errors.New("channel: tls ca file required")
	ErrTLSCertFileRequired = errors.New("channel: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("channel: tls key file required")
)

// TLSOptions is the client side of a ChannelTlsSocketClient.
type TLSOptions struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Mutual reports whether a client certificate is presented.
func (o TLSOptions) Mutual() bool {
	return strings.TrimSpace(o.CertFile) != "" || strings.TrimSpace(o.KeyFile) != ""
}

// Validate enforces a usable client transport: a CA bundle unless verification
// is skipped, and a certificate and key together.
func (o TLSOptions) Validate() error {
	if strings.TrimSpace(o.CAFile) == "" && !o.InsecureSkipVerify {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidOptions, ErrTLSCAFileRequired)
	}
	if o.Mutual() {
		if strings.TrimSpace(o.CertFile) == "" {
			return fmt.Errorf("%w: %w", protocol.ErrInvalidOptions, ErrTLSCertFileRequired)
		}
		if strings.TrimSpace(o.KeyFile) == "" {
			return fmt.Errorf("%w: %w", protocol.ErrInvalidOptions, ErrTLSKeyFileRequired)
		}
	}
	return nil
}

// ClientConfig builds the crypto/tls configuration for dialing addr.
func (o TLSOptions) ClientConfig(addr string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(o.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(o.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("channel: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if o.Mutual() {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
