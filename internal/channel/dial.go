package channel

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

func socketDialer(addr string, timeout time.Duration) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		dialer := net.Dialer{Timeout: timeout}
		return dialer.DialContext(ctx, "tcp", addr)
	}
}

func tlsDialer(addr string, timeout time.Duration, opts TLSOptions) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		tlsCfg, err := opts.ClientConfig(addr)
		if err != nil {
			return nil, err
		}
		dialer := net.Dialer{Timeout: timeout}
		rawConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		conn := tls.Client(rawConn, tlsCfg)
		if err := conn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// SerialMode is the line configuration of a ChannelSerial.
type SerialMode struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

func serialDialer(mode SerialMode) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return serial.Open(mode.Device, &serial.Mode{
			BaudRate: mode.BaudRate,
			DataBits: mode.DataBits,
			Parity:   mode.Parity,
			StopBits: mode.StopBits,
		})
	}
}
