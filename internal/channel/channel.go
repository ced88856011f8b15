package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/protocol"
)

// State is the connection state of a Channel.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventType classifies a channel lifecycle notification.
type EventType int

const (
	EventNone EventType = iota
	EventConnecting
	EventConnected
	EventDisconnected
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "None"
	case EventConnecting:
		return "Connecting"
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventError:
		return "Error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one lifecycle notification. Options carries the channel options it
// was opened with; Err is set on EventError and on a Disconnected caused by a failure.
type Event struct {
	Type    EventType
	Options map[string]string
	Err     error
}

// Channel is a bidirectional byte stream with an observable lifecycle.
type Channel interface {
	Type() string
	// Open starts connecting and returns the event stream. The stream is closed
	// after the final EventDisconnected.
	Open(ctx context.Context) <-chan Event
	Send(p []byte) error
	Receive(p []byte) (int, error)
	Close() error
	State() State
}

const DefaultTimeout = 30 * time.Second

// DialFunc establishes the underlying byte stream.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Stream is the Channel used by every built-in variant: a dialer plus the
// shared lifecycle and event bookkeeping.
type Stream struct {
	typ     string
	opts    map[string]string
	timeout time.Duration
	dial    DialFunc

	mu     sync.Mutex
	state  State
	conn   io.ReadWriteCloser
	events chan Event
	cancel context.CancelFunc
	closed bool
	done   bool

	writeMu sync.Mutex
}

// NewStream builds a channel of type typ around dial. opts are echoed in events.
func NewStream(typ string, opts map[string]string, timeout time.Duration, dial DialFunc) *Stream {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cp := make(map[string]string, len(opts))
	for k, v := range opts {
		cp[k] = v
	}
	return &Stream{
		typ:     typ,
		opts:    cp,
		timeout: timeout,
		dial:    dial,
		state:   Idle,
	}
}

func (s *Stream) Type() string {
	return s.typ
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open is only effective once; later calls return the same stream.
func (s *Stream) Open(ctx context.Context) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		return s.events
	}
	// at most Connecting, Connected, Error, Disconnected are ever queued
	s.events = make(chan Event, 4)
	if s.closed {
		s.finishLocked(Disconnected, nil)
		return s.events
	}
	s.state = Connecting
	s.emitLocked(EventConnecting, nil)

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.cancel = cancel
	go s.connect(dialCtx, cancel)
	return s.events
}

func (s *Stream) connect(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	conn, err := s.dial(ctx)
	if err == nil && ctx.Err() != nil {
		_ = conn.Close()
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.closed {
			logs.Warnf("channel.connect type=%s err=%v", s.typ, err)
		}
		s.finishLocked(Failed, fmt.Errorf("channel: connect %s: %w", s.typ, err))
		return
	}
	if s.closed || s.done {
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = Connected
	logs.Debugf("channel.connect type=%s connected", s.typ)
	s.emitLocked(EventConnected, nil)
}

func (s *Stream) Send(p []byte) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.state == Connected
	s.mu.Unlock()
	if !ok || conn == nil {
		return protocol.ErrNotConnected
	}

	s.writeMu.Lock()
	_, err := conn.Write(p)
	s.writeMu.Unlock()
	if err != nil {
		return s.fail("send", err)
	}
	return nil
}

// Receive blocks until bytes arrive, the peer goes away or Close is called.
func (s *Stream) Receive(p []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, protocol.ErrClosed
	}
	if conn == nil {
		return 0, protocol.ErrNotConnected
	}
	n, err := conn.Read(p)
	if err != nil {
		if n > 0 {
			// hand over what arrived; the error resurfaces on the next read
			return n, nil
		}
		return 0, s.fail("receive", err)
	}
	return n, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.events != nil {
		s.finishLocked(Disconnected, nil)
	} else {
		s.state = Disconnected
	}
	return err
}

func (s *Stream) fail(op string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return protocol.ErrClosed
	}
	err := fmt.Errorf("channel: %s %s: %w", op, s.typ, cause)
	if errors.Is(cause, io.EOF) {
		logs.Infof("channel.%s type=%s peer closed", op, s.typ)
	} else {
		logs.Warnf("channel.%s type=%s err=%v", op, s.typ, cause)
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.finishLocked(Failed, err)
	return err
}

// finishLocked emits the terminal events and closes the stream exactly once.
func (s *Stream) finishLocked(state State, err error) {
	if s.done {
		return
	}
	s.done = true
	s.state = state
	if err != nil {
		s.emitLocked(EventError, err)
	}
	s.emitLocked(EventDisconnected, err)
	close(s.events)
}

func (s *Stream) emitLocked(t EventType, err error) {
	opts := make(map[string]string, len(s.opts))
	for k, v := range s.opts {
		opts[k] = v
	}
	s.events <- Event{Type: t, Options: opts, Err: err}
}
