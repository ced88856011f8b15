package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sigurn/crc16"
)

// Control bytes of the wire contract.
const (
	STX byte = 0x02
	ETX byte = 0x03
	ENQ byte = 0x05
	ACK byte = 0x06
	DLE byte = 0x10
	NAK byte = 0x15
	SYN byte = 0x16

	// stuffXor is applied to a reserved byte following DLE.
	stuffXor byte = 0x20
	maskByte byte = '?'
)

var (
	ErrChecksum        = errors.New("frame: checksum mismatch")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrMalformed       = errors.New("frame: malformed frame")
	ErrUnexpectedData  = errors.New("frame: control frame carries payload")
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Kind is the frame class selected by the start byte.
type Kind uint8

const (
	KindData Kind = iota + 1
	KindAck
	KindKeepAlive
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindKeepAlive:
		return "keepalive"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) start() byte {
	switch k {
	case KindAck:
		return ACK
	case KindKeepAlive:
		return ENQ
	default:
		return STX
	}
}

func kindOf(b byte) (Kind, bool) {
	switch b {
	case STX:
		return KindData, true
	case ACK:
		return KindAck, true
	case ENQ:
		return KindKeepAlive, true
	default:
		return 0, false
	}
}

// Frame is one datalink unit.
type Frame struct {
	Kind    Kind
	Seq     uint16
	Payload []byte
}

// Options shapes the encoded bytes without changing frame meaning.
type Options struct {
	SynBytes     int
	MaskNonASCII bool
}

// Limits constrains decoder memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 64 * 1024}
}

// Check rejects a payload a decoder with these limits would drop.
func (l Limits) Check(payload []byte) error {
	if len(payload) > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), l.MaxPayloadBytes)
	}
	return nil
}

// Checksum is CRC-16/CCITT-FALSE over the big-endian sequence and the payload.
func Checksum(seq uint16, payload []byte) uint16 {
	buf := make([]byte, 0, 2+len(payload))
	buf = append(buf, byte(seq>>8), byte(seq))
	buf = append(buf, payload...)
	return crc16.Checksum(buf, crcTable)
}

// Mask replaces every byte outside 7-bit ASCII with '?'.
func Mask(payload []byte) []byte {
	out := make([]byte, len(payload))
	for i, b := range payload {
		if b >= 0x80 {
			b = maskByte
		}
		out[i] = b
	}
	return out
}

// Encode renders f as: SYN*n START stuffed(seq payload) ETX stuffed(crc).
func Encode(f Frame, opts Options) ([]byte, error) {
	if f.Kind != KindData && len(f.Payload) > 0 {
		return nil, ErrUnexpectedData
	}
	payload := f.Payload
	if opts.MaskNonASCII {
		payload = Mask(payload)
	}
	crc := Checksum(f.Seq, payload)

	out := make([]byte, 0, opts.SynBytes+len(payload)+10)
	for i := 0; i < opts.SynBytes; i++ {
		out = append(out, SYN)
	}
	out = append(out, f.Kind.start())
	out = appendStuffed(out, byte(f.Seq>>8), byte(f.Seq))
	out = appendStuffed(out, payload...)
	out = append(out, ETX)
	out = appendStuffed(out, byte(crc>>8), byte(crc))
	return out, nil
}

// WriteFrame encodes f and writes it in one call.
func WriteFrame(w io.Writer, f Frame, opts Options) error {
	b, err := Encode(f, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func appendStuffed(out []byte, bs ...byte) []byte {
	for _, b := range bs {
		if reserved(b) {
			out = append(out, DLE, b^stuffXor)
			continue
		}
		out = append(out, b)
	}
	return out
}

func reserved(b byte) bool {
	switch b {
	case STX, ETX, ENQ, ACK, DLE, NAK, SYN:
		return true
	}
	return false
}

// Decoder extracts frames from a byte stream, resynchronising on start bytes.
type Decoder struct {
	r      *bufio.Reader
	limits Limits
}

func NewDecoder(r io.Reader, limits Limits) *Decoder {
	if limits.MaxPayloadBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Decoder{r: bufio.NewReader(r), limits: limits}
}

// Next returns the next frame. ErrChecksum, ErrMalformed, ErrUnexpectedData and
// ErrPayloadTooLarge are recoverable: the caller may keep calling Next. On
// ErrChecksum the returned frame carries the decoded fields for diagnostics.
// Any other error comes from the underlying reader.
func (d *Decoder) Next() (Frame, error) {
	kind, err := d.seekStart()
	if err != nil {
		return Frame{}, err
	}

	body := make([]byte, 0, 64)
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == ETX {
			break
		}
		if next, ok := kindOf(b); ok {
			// a new frame started before this one ended
			kind = next
			body = body[:0]
			continue
		}
		if b == SYN {
			continue
		}
		if b == DLE {
			if b, err = d.escaped(); err != nil {
				return Frame{}, err
			}
		}
		body = append(body, b)
		if len(body) > d.limits.MaxPayloadBytes+2 {
			return Frame{}, ErrPayloadTooLarge
		}
	}

	var crcBytes [2]byte
	for i := range crcBytes {
		b, err := d.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == DLE {
			if b, err = d.escaped(); err != nil {
				return Frame{}, err
			}
		} else if reserved(b) {
			_ = d.r.UnreadByte()
			return Frame{}, ErrMalformed
		}
		crcBytes[i] = b
	}

	if len(body) < 2 {
		return Frame{}, ErrMalformed
	}
	f := Frame{
		Kind:    kind,
		Seq:     uint16(body[0])<<8 | uint16(body[1]),
		Payload: append([]byte(nil), body[2:]...),
	}
	crc := uint16(crcBytes[0])<<8 | uint16(crcBytes[1])
	if Checksum(f.Seq, f.Payload) != crc {
		return f, ErrChecksum
	}
	if f.Kind != KindData && len(f.Payload) > 0 {
		return f, ErrUnexpectedData
	}
	return f, nil
}

// Recoverable reports whether err leaves the decoder usable.
func Recoverable(err error) bool {
	return errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnexpectedData) ||
		errors.Is(err, ErrPayloadTooLarge)
}

func (d *Decoder) seekStart() (Kind, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if k, ok := kindOf(b); ok {
			return k, nil
		}
	}
}

func (d *Decoder) escaped() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	b ^= stuffXor
	if !reserved(b) {
		return 0, ErrMalformed
	}
	return b, nil
}
