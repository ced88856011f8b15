package datalink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/observability"
	"github.com/danmuck/integractl/internal/protocol"
	"github.com/danmuck/integractl/internal/protocol/frame"
)

var (
	ErrPeerSilent = errors.New("datalink: peer silent")
	ErrRunning    = errors.New("datalink: already running")
)

// Link is the STX/ETX/CRC datalink with ACK, retry, sequence dedupe and
// keep-alive. One Link serves one channel at a time.
type Link struct {
	cfg    Config
	label  string
	limits frame.Limits

	sendMu sync.Mutex
	out    *outbox

	mu            sync.Mutex
	ch            channel.Channel
	done          chan struct{}
	serving       bool
	lastSeq       int
	lastDelivered int
	lastRx        time.Time
	lastTx        time.Time
	silent        bool
	kaSeq         uint16
	kaPending     bool
}

func NewLink(cfg Config) *Link {
	if cfg.SequenceModulus < 2 {
		cfg.SequenceModulus = DefaultConfig().SequenceModulus
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	return &Link{
		cfg:     cfg,
		label:   "default",
		limits:  frame.DefaultLimits(),
		out:     newOutbox(),
		lastSeq: cfg.SequenceModulus - 1,
	}
}

func (l *Link) Type() string {
	return TypeStxEtxCrc
}

func (l *Link) Config() Config {
	return l.cfg
}

// SetLabel names the link in logs and metrics.
func (l *Link) SetLabel(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.label = label
}

// Ready reports whether a channel is attached.
func (l *Link) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch != nil
}

// Pending returns the in-flight send for seq, if any.
func (l *Link) Pending(seq uint16) (PendingSend, bool) {
	return l.out.Get(seq)
}

func (l *Link) frameOptions() frame.Options {
	return frame.Options{SynBytes: l.cfg.SynBytes, MaskNonASCII: l.cfg.MaskNonASCII}
}

// Send frames payload with the next sequence number and blocks until the peer
// ACKs it. The identical bytes are retransmitted after each AckTimeout, at most
// AckMaxRetries times, before ErrNoAck. Concurrent callers are serialized.
// A payload over the frame limit fails before any sequence is consumed.
func (l *Link) Send(ctx context.Context, payload []byte) error {
	if err := l.limits.Check(payload); err != nil {
		return err
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	l.mu.Lock()
	ch, done, label := l.ch, l.done, l.label
	if ch == nil {
		l.mu.Unlock()
		return protocol.ErrNotConnected
	}
	l.lastSeq = (l.lastSeq + 1) % l.cfg.SequenceModulus
	seq := uint16(l.lastSeq)
	l.mu.Unlock()

	b, err := frame.Encode(frame.Frame{Kind: frame.KindData, Seq: seq, Payload: payload}, l.frameOptions())
	if err != nil {
		return err
	}
	item := &PendingSend{Seq: seq, QueuedAt: time.Now(), Frame: b}
	l.out.Upsert(item)
	defer l.out.Remove(seq)

	attempts := l.cfg.AckMaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		l.out.MarkAttempt(seq, time.Now(), l.cfg.AckTimeout)
		if err := l.write(ch, b); err != nil {
			if errors.Is(err, protocol.ErrNotConnected) || errors.Is(err, protocol.ErrClosed) {
				return err
			}
			return fmt.Errorf("%w: %w", protocol.ErrDisconnected, err)
		}
		observability.RecordFrameSent(label, frame.KindData.String(), attempt > 1)
		logs.Tracef("datalink.Send link=%s seq=%d attempt=%d", label, seq, attempt)

		timer := time.NewTimer(l.cfg.AckTimeout)
		select {
		case <-item.acked:
			timer.Stop()
			return nil
		case <-timer.C:
			if attempt < attempts {
				logs.Debugf("datalink.Send link=%s seq=%d ack timeout, retrying", label, seq)
			}
		case <-done:
			timer.Stop()
			return protocol.ErrDisconnected
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	observability.RecordNoAck(label)
	logs.Warnf("datalink.Send link=%s seq=%d no ack after %d attempts", label, seq, attempts)
	return fmt.Errorf("%w: seq=%d attempts=%d", protocol.ErrNoAck, seq, attempts)
}

func (l *Link) write(ch channel.Channel, b []byte) error {
	if err := ch.Send(b); err != nil {
		return err
	}
	l.mu.Lock()
	l.lastTx = time.Now()
	l.mu.Unlock()
	return nil
}

func (l *Link) writeControl(ch channel.Channel, kind frame.Kind, seq uint16) error {
	b, err := frame.Encode(frame.Frame{Kind: kind, Seq: seq}, frame.Options{SynBytes: l.cfg.SynBytes})
	if err != nil {
		return err
	}
	if err := l.write(ch, b); err != nil {
		return err
	}
	observability.RecordFrameSent(l.labelName(), kind.String(), false)
	return nil
}

func (l *Link) labelName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.label
}

// Run attaches ch and serves it until the channel fails, ctx ends or the peer
// goes silent.
func (l *Link) Run(ctx context.Context, ch channel.Channel, deliver func([]byte)) error {
	if err := l.Attach(ch); err != nil {
		return err
	}
	return l.Serve(ctx, deliver)
}

// Attach binds the link to an open, connected channel; Ready reports true from
// here until Serve returns.
func (l *Link) Attach(ch channel.Channel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ch != nil {
		return ErrRunning
	}
	l.ch = ch
	l.done = make(chan struct{})
	l.serving = false
	l.lastDelivered = -1
	l.lastRx = time.Now()
	l.lastTx = time.Now()
	l.silent = false
	l.kaPending = false
	return nil
}

// Serve reads frames from the attached channel. Valid data frames are ACKed and
// passed to deliver on the calling goroutine.
func (l *Link) Serve(ctx context.Context, deliver func([]byte)) error {
	l.mu.Lock()
	ch, done, label := l.ch, l.done, l.label
	if ch == nil || l.serving {
		l.mu.Unlock()
		return protocol.ErrNotConnected
	}
	l.serving = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.ch = nil
		l.serving = false
		close(done)
		l.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	if l.cfg.KeepAliveInterval > 0 {
		var wg sync.WaitGroup
		wg.Add(1)
		kaCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer wg.Done()
			l.keepAlive(kaCtx, ch)
		}()
		defer wg.Wait()
		defer cancel()
	}

	logs.Debugf("datalink.Run link=%s channel=%s started", label, ch.Type())
	dec := frame.NewDecoder(receiver{ch}, l.limits)
	for {
		f, err := dec.Next()
		if err != nil {
			if frame.Recoverable(err) {
				l.dropped(label, f, err)
				continue
			}
			l.mu.Lock()
			silent := l.silent
			l.mu.Unlock()
			switch {
			case silent:
				return ErrPeerSilent
			case ctx.Err() != nil:
				return ctx.Err()
			}
			return err
		}

		l.mu.Lock()
		l.lastRx = time.Now()
		l.mu.Unlock()

		switch f.Kind {
		case frame.KindAck:
			outcome := "unmatched"
			switch {
			case l.keepAliveAcked(f.Seq):
				outcome = "keepalive"
			case l.out.Ack(f.Seq):
				outcome = "matched"
			}
			observability.RecordFrameReceived(label, f.Kind.String(), outcome)
		case frame.KindKeepAlive:
			observability.RecordFrameReceived(label, f.Kind.String(), "delivered")
			if err := l.writeControl(ch, frame.KindAck, f.Seq); err != nil {
				logs.Debugf("datalink.Run link=%s keepalive ack err=%v", label, err)
			}
		case frame.KindData:
			if err := l.writeControl(ch, frame.KindAck, f.Seq); err != nil {
				logs.Debugf("datalink.Run link=%s ack seq=%d err=%v", label, f.Seq, err)
			}
			if l.cfg.DuplicateCheck && l.lastDelivered == int(f.Seq) {
				observability.RecordFrameReceived(label, f.Kind.String(), "duplicate")
				logs.Debugf("datalink.Run link=%s seq=%d duplicate suppressed", label, f.Seq)
				continue
			}
			l.lastDelivered = int(f.Seq)
			observability.RecordFrameReceived(label, f.Kind.String(), "delivered")
			if deliver != nil {
				deliver(f.Payload)
			}
		}
	}
}

func (l *Link) dropped(label string, f frame.Frame, err error) {
	outcome := "malformed"
	if errors.Is(err, frame.ErrChecksum) {
		outcome = "checksum"
	}
	kind := f.Kind.String()
	if f.Kind == 0 {
		kind = "unknown"
	}
	observability.RecordFrameReceived(label, kind, outcome)
	logs.Debugf("datalink.Run link=%s dropped frame seq=%d err=%v", label, f.Seq, err)
}

// keepAliveAcked consumes the ACK of the outstanding KEEPALIVE so it never
// reaches the outbox.
func (l *Link) keepAliveAcked(seq uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.kaPending || l.kaSeq != seq {
		return false
	}
	l.kaPending = false
	return true
}

// keepAlive sends a KEEPALIVE when the link has been idle for an interval and
// closes the channel once the peer has been silent for three intervals.
func (l *Link) keepAlive(ctx context.Context, ch channel.Channel) {
	interval := l.cfg.KeepAliveInterval
	tick := interval / 4
	if tick <= 0 {
		tick = interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			idle := now.Sub(l.lastTx)
			quiet := now.Sub(l.lastRx)
			label := l.label
			l.mu.Unlock()

			if quiet >= l.cfg.SilenceTimeout() {
				l.mu.Lock()
				l.silent = true
				l.mu.Unlock()
				logs.Warnf("datalink.keepAlive link=%s peer silent for %s", label, quiet)
				_ = ch.Close()
				return
			}
			// never while a send is in flight: lastSeq then names no pending frame
			if idle < interval || !l.sendMu.TryLock() {
				continue
			}
			l.mu.Lock()
			seq := uint16(l.lastSeq)
			l.kaSeq, l.kaPending = seq, true
			l.mu.Unlock()
			err := l.writeControl(ch, frame.KindKeepAlive, seq)
			l.sendMu.Unlock()
			if err != nil {
				logs.Debugf("datalink.keepAlive link=%s err=%v", label, err)
			}
		}
	}
}

// receiver adapts Channel.Receive to io.Reader.
type receiver struct {
	ch channel.Channel
}

func (r receiver) Read(p []byte) (int, error) {
	return r.ch.Receive(p)
}
