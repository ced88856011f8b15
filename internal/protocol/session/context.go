package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/observability"
	"github.com/danmuck/integractl/internal/protocol"
	"github.com/google/uuid"
)

var ErrStarted = errors.New("session: already started")

// Context binds one Channel to one Datalink. All listener callbacks run on the
// session's receive goroutine.
type Context struct {
	id   string
	cfg  Config
	link *datalink.Link

	mu        sync.Mutex
	ch        channel.Channel
	onEvent   func(channel.Event)
	onPayload func([]byte)
	started   bool
	disposed  bool
	cancel    context.CancelFunc
	done      chan struct{}
	rng       *rand.Rand
}

func New(ch channel.Channel, link *datalink.Link, cfg Config) *Context {
	if cfg.Label == "" {
		cfg.Label = DefaultConfig().Label
	}
	link.SetLabel(cfg.Label)
	return &Context{
		id:   uuid.NewString(),
		cfg:  cfg,
		link: link,
		ch:   ch,
		done: make(chan struct{}),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Context) ID() string {
	return s.id
}

func (s *Context) Label() string {
	return s.cfg.Label
}

func (s *Context) Link() *datalink.Link {
	return s.link
}

// Channel returns the channel currently owned by the session.
func (s *Context) Channel() channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// IsConnected is true while the channel is connected and the datalink is attached.
func (s *Context) IsConnected() bool {
	s.mu.Lock()
	ch, disposed := s.ch, s.disposed
	s.mu.Unlock()
	if disposed || ch == nil {
		return false
	}
	return ch.State() == channel.Connected && s.link.Ready()
}

// SetEventListener installs the channel event callback; the last call wins.
func (s *Context) SetEventListener(fn func(channel.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.onEvent = fn
}

// SetPayloadListener installs the delivered payload callback; the last call wins.
func (s *Context) SetPayloadListener(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.onPayload = fn
}

// Start opens the channel and begins the receive goroutine.
func (s *Context) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return protocol.ErrClosed
	}
	if s.started {
		return ErrStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx, s.ch)
	return nil
}

// Done is closed when the receive goroutine has exited.
func (s *Context) Done() <-chan struct{} {
	return s.done
}

// Send hands payload to the datalink and blocks until it is ACKed or fails.
func (s *Context) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return protocol.ErrClosed
	}
	if !s.IsConnected() {
		return protocol.ErrNotConnected
	}
	return s.link.Send(ctx, payload)
}

// Dispose closes the channel, aborts any pending send and drops the listeners.
// It is idempotent and safe to call from a listener.
func (s *Context) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.onEvent = nil
	s.onPayload = nil
	ch, cancel, started := s.ch, s.cancel, s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if !started {
		close(s.done)
	}
	observability.SetConnected(s.cfg.Label, false)
	logs.Debugf("session.Dispose id=%s label=%s", s.id, s.cfg.Label)
}

func (s *Context) run(ctx context.Context, ch channel.Channel) {
	defer close(s.done)
	attempt := 0
	for {
		if s.serve(ctx, ch) {
			attempt = 0
		}
		if !s.shouldReconnect(ctx) {
			return
		}
		var err error
		ch, err = s.redial(ctx, &attempt)
		if err != nil {
			logs.Warnf("session.run id=%s label=%s reconnect abandoned err=%v", s.id, s.cfg.Label, err)
			return
		}
	}
}

// serve drives one channel until its event stream closes and reports whether
// it ever connected.
func (s *Context) serve(ctx context.Context, ch channel.Channel) bool {
	connected := false
	var linkErr error
	for ev := range ch.Open(ctx) {
		switch ev.Type {
		case channel.EventConnected:
			connected = true
			if err := s.link.Attach(ch); err != nil {
				logs.Errf("session.serve id=%s attach err=%v", s.id, err)
				_ = ch.Close()
				continue
			}
			observability.SetConnected(s.cfg.Label, true)
			logs.Infof("session.serve id=%s label=%s connected channel=%s", s.id, s.cfg.Label, ch.Type())
			s.publish(ev)
			linkErr = s.link.Serve(ctx, s.deliver)
			logs.Debugf("session.serve id=%s label=%s link stopped err=%v", s.id, s.cfg.Label, linkErr)
			_ = ch.Close()
			continue
		case channel.EventDisconnected:
			observability.SetConnected(s.cfg.Label, false)
			if ev.Err == nil && errors.Is(linkErr, datalink.ErrPeerSilent) {
				ev.Err = linkErr
			}
			logs.Infof("session.serve id=%s label=%s disconnected err=%v", s.id, s.cfg.Label, ev.Err)
		}
		s.publish(ev)
	}
	return connected
}

func (s *Context) shouldReconnect(ctx context.Context) bool {
	if !s.cfg.Reconnect || s.cfg.Redial == nil || ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed
}

func (s *Context) redial(ctx context.Context, attempt *int) (channel.Channel, error) {
	for {
		*attempt++
		if s.cfg.MaxReconnectAttempts > 0 && *attempt > s.cfg.MaxReconnectAttempts {
			return nil, protocol.ErrDisconnected
		}
		if err := s.sleepBackoff(ctx, *attempt); err != nil {
			return nil, err
		}
		ch, err := s.cfg.Redial()
		if err != nil {
			logs.Warnf("session.redial id=%s attempt=%d err=%v", s.id, *attempt, err)
			continue
		}
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			_ = ch.Close()
			return nil, protocol.ErrClosed
		}
		s.ch = ch
		s.mu.Unlock()
		logs.Infof("session.redial id=%s label=%s attempt=%d", s.id, s.cfg.Label, *attempt)
		return ch, nil
	}
}

func (s *Context) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Context) publish(ev channel.Event) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Context) deliver(p []byte) {
	s.mu.Lock()
	fn := s.onPayload
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}
