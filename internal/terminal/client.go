// Package terminal is the correlation engine: it assigns sequence numbers to
// requests, matches responses to the single outstanding request and routes
// status updates and channel events to the application.
//
// Handlers run on the session's receive goroutine. A handler that wants to
// submit the next request must hand off to another goroutine, because the
// receive goroutine is the one that processes the ACK the submission waits for.
package terminal

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/observability"
	"github.com/danmuck/integractl/internal/protocol"
	"github.com/danmuck/integractl/internal/protocol/session"
	"github.com/danmuck/integractl/internal/protocol/tags"
	"github.com/danmuck/integractl/internal/request"
)

// State is the client's view of its session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	AwaitingResponse
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case AwaitingResponse:
		return "awaiting_response"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type result struct {
	resp request.Response
	err  error
}

// pending is the one correlation table entry.
type pending struct {
	seq     uint64
	typ     string
	started time.Time
	done    chan result
}

// Client correlates requests and responses over one session.
type Client struct {
	sess *session.Context
	name string

	mu         sync.Mutex
	state      State
	nextSeq    uint64
	pending    *pending
	connWait   chan struct{}
	disposed   bool
	onResponse func(request.Response)
	onStatus   func(request.StatusUpdate)
	onChannel  func(channel.Event)
}

// NewClient takes ownership of sess and installs its listeners.
func NewClient(sess *session.Context) *Client {
	c := &Client{
		sess:     sess,
		name:     sess.Label(),
		state:    Disconnected,
		connWait: make(chan struct{}),
	}
	sess.SetEventListener(c.handleEvent)
	sess.SetPayloadListener(c.handlePayload)
	return c
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Session() *session.Context {
	return c.sess
}

// Start opens the session's channel.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.state = Connecting
	}
	c.mu.Unlock()
	return c.sess.Start(ctx)
}

// SetResponseHandler installs the response callback; the last call wins.
func (c *Client) SetResponseHandler(fn func(request.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResponse = fn
}

// SetStatusHandler installs the status update callback; the last call wins.
func (c *Client) SetStatusHandler(fn func(request.StatusUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// SetChannelHandler installs the channel event callback; the last call wins.
func (c *Client) SetChannelHandler(fn func(channel.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannel = fn
}

// IsConnected is authoritative; channel events are notifications only.
func (c *Client) IsConnected() bool {
	return c.sess.IsConnected()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendRequest submits req and returns its sequence number once the terminal
// has ACKed the frame. The response arrives later through the response handler.
// On a transport failure the consumed sequence number is returned with the error.
func (c *Client) SendRequest(req request.Request) (uint64, error) {
	return c.SendRequestContext(context.Background(), req)
}

// SendRequestContext is SendRequest with a caller deadline on the submission.
func (c *Client) SendRequestContext(ctx context.Context, req request.Request) (uint64, error) {
	tx, err := c.submit(ctx, req)
	if tx == nil {
		return 0, err
	}
	return tx.seq, err
}

// Transact submits req and waits for its correlated response. If ctx ends
// first the entry is abandoned and a late response is treated as an orphan.
func (c *Client) Transact(ctx context.Context, req request.Request) (request.Response, error) {
	tx, err := c.submit(ctx, req)
	if err != nil {
		return request.Response{}, err
	}
	select {
	case r := <-tx.done:
		return r.resp, r.err
	case <-ctx.Done():
		c.Abandon(tx.seq)
		return request.Response{}, ctx.Err()
	}
}

// Abandon clears the pending entry for seq. It reports whether one was cleared.
func (c *Client) Abandon(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil || c.pending.seq != seq {
		return false
	}
	c.pending = nil
	if c.state == AwaitingResponse {
		c.state = Connected
	}
	logs.Infof("terminal.Abandon terminal=%s seq=%d", c.name, seq)
	return true
}

func (c *Client) submit(ctx context.Context, req request.Request) (*pending, error) {
	typ := req.Type()
	if !c.sess.IsConnected() {
		observability.RecordRequest(c.name, typ, protocol.NotConnected.String())
		return nil, protocol.ErrNotConnected
	}
	if err := req.Validate(); err != nil {
		observability.RecordRequest(c.name, typ, protocol.KindOf(err).String())
		return nil, err
	}
	if _, err := req.Payload(); err != nil {
		observability.RecordRequest(c.name, typ, protocol.InvalidOptions.String())
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidOptions, err)
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, protocol.ErrClosed
	}
	if c.pending != nil {
		inFlight := c.pending.seq
		c.mu.Unlock()
		observability.RecordRequest(c.name, typ, protocol.TransactionInProgress.String())
		return nil, fmt.Errorf("%w: seq=%d", protocol.ErrTransactionInProgress, inFlight)
	}
	tx := &pending{
		seq:     c.nextSeq,
		typ:     typ,
		started: time.Now(),
		done:    make(chan result, 1),
	}
	c.nextSeq++
	c.pending = tx
	c.state = AwaitingResponse
	c.mu.Unlock()

	// the caller's SequenceNumber tag, if any, is replaced
	payload, _ := req.WithSequence(tx.seq).Payload()
	logs.Debugf("terminal.submit terminal=%s type=%s seq=%d", c.name, typ, tx.seq)
	if err := c.sess.Send(ctx, payload); err != nil {
		c.mu.Lock()
		if c.pending == tx {
			c.pending = nil
			if c.state == AwaitingResponse {
				c.state = Connected
			}
		}
		c.mu.Unlock()
		observability.RecordRequest(c.name, typ, protocol.KindOf(err).String())
		logs.Warnf("terminal.submit terminal=%s type=%s seq=%d err=%v", c.name, typ, tx.seq, err)
		return tx, err
	}
	observability.RecordRequest(c.name, typ, protocol.Success.String())
	return tx, nil
}

// WaitConnected blocks until the session is connected, ctx ends or the
// session gives up.
func (c *Client) WaitConnected(ctx context.Context) error {
	for {
		if c.sess.IsConnected() {
			return nil
		}
		c.mu.Lock()
		wait, disposed := c.connWait, c.disposed
		c.mu.Unlock()
		if disposed {
			return protocol.ErrClosed
		}
		select {
		case <-wait:
		case <-c.sess.Done():
			if c.sess.IsConnected() {
				return nil
			}
			return protocol.ErrDisconnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dispose tears the session down and fails any outstanding transaction.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	tx := c.pending
	c.pending = nil
	c.state = Disconnected
	c.onResponse, c.onStatus, c.onChannel = nil, nil, nil
	c.mu.Unlock()

	c.sess.Dispose()
	if tx != nil {
		tx.done <- result{err: protocol.ErrClosed}
	}
}

func (c *Client) handleEvent(ev channel.Event) {
	c.mu.Lock()
	var failed *pending
	switch ev.Type {
	case channel.EventConnecting:
		c.state = Connecting
	case channel.EventConnected:
		c.state = Connected
		select {
		case <-c.connWait:
		default:
			close(c.connWait)
		}
	case channel.EventDisconnected:
		failed = c.pending
		c.pending = nil
		if ev.Err != nil {
			c.state = Failed
		} else {
			c.state = Disconnected
		}
		select {
		case <-c.connWait:
			c.connWait = make(chan struct{})
		default:
		}
	}
	fn := c.onChannel
	c.mu.Unlock()

	if failed != nil {
		logs.Warnf("terminal.handleEvent terminal=%s seq=%d failed by disconnect", c.name, failed.seq)
		failed.done <- result{err: protocol.ErrDisconnected}
	}
	if fn != nil {
		fn(ev)
	}
}

func (c *Client) handlePayload(p []byte) {
	bag, err := tags.Unmarshal(p)
	if err != nil {
		logs.Warnf("terminal.handlePayload terminal=%s dropping malformed payload err=%v", c.name, err)
		return
	}
	switch tags.Classify(bag) {
	case tags.ClassStatus:
		c.dispatchStatus(bag)
	case tags.ClassResponse:
		c.dispatchResponse(bag)
	default:
		logs.Warnf("terminal.handlePayload terminal=%s dropping unclassified payload", c.name)
	}
}

func (c *Client) dispatchStatus(bag map[string]string) {
	observability.RecordStatusUpdate(c.name)
	c.mu.Lock()
	fn := c.onStatus
	c.mu.Unlock()
	logs.Debugf("terminal.status terminal=%s message=%q", c.name, bag[tags.KeyStatusMessage])
	if fn != nil {
		fn(request.NewStatusUpdate(bag))
	}
}

func (c *Client) dispatchResponse(bag map[string]string) {
	raw := bag[tags.KeySequenceNumber]
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.orphan(raw, "unparseable sequence number")
		return
	}

	c.mu.Lock()
	tx := c.pending
	if tx == nil || tx.seq != seq {
		c.mu.Unlock()
		c.orphan(raw, "no matching request")
		return
	}
	c.pending = nil
	c.state = Connected
	fn := c.onResponse
	c.mu.Unlock()

	typ := bag[tags.KeyType]
	if typ == "" {
		typ = tx.typ
	}
	resp := request.NewResponse(typ, seq, bag)
	observability.RecordTransaction(c.name, tx.typ, time.Since(tx.started))
	logs.Debugf("terminal.response terminal=%s type=%s seq=%d", c.name, typ, seq)
	if fn != nil {
		fn(resp)
	}
	tx.done <- result{resp: resp}
}

func (c *Client) orphan(seq, reason string) {
	observability.RecordOrphan(c.name)
	logs.Warnf("terminal.orphan terminal=%s seq=%q dropped: %s", c.name, seq, reason)
}
