// Package simulator plays the payment terminal side of the protocol: it ACKs
// frames, announces status updates and answers requests by echoing their
// SequenceNumber.
package simulator

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/protocol/tags"
	"golang.org/x/sync/errgroup"
)

var ErrNoPeer = errors.New("simulator: no connected peer")

// Config shapes the simulated terminal.
type Config struct {
	Datalink datalink.Config
	// Ready is pushed as a StatusMessage right after a POS connects; empty disables it.
	Ready string
	// Progress messages are pushed before every response.
	Progress []string
	Delay    time.Duration
	// Respond builds the reply tags for a request. A nil result sends no reply.
	Respond func(req map[string]string) map[string]string
}

func DefaultConfig() Config {
	return Config{
		Datalink: datalink.DefaultConfig(),
		Ready:    "Terminal ready",
		Progress: []string{"Insert card", "Processing"},
	}
}

// Terminal accepts POS connections and serves each on its own datalink.
type Terminal struct {
	cfg Config

	mu       sync.Mutex
	peers    map[*peer]struct{}
	received []map[string]string
	refNum   int
}

type peer struct {
	link  *datalink.Link
	queue chan map[string]string
}

func New(cfg Config) *Terminal {
	return &Terminal{cfg: cfg, peers: make(map[*peer]struct{}), refNum: 3990}
}

// Serve accepts connections until ctx ends or ln is closed.
func (t *Terminal) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if gctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = aerr
			}
			break
		}
		g.Go(func() error {
			t.ServeConn(gctx, conn)
			return nil
		})
	}
	cancel()
	_ = g.Wait()
	return err
}

// ServeConn runs the terminal side of one connection until it drops.
func (t *Terminal) ServeConn(ctx context.Context, conn net.Conn) {
	ch := channel.NewStream("TerminalSimulator", map[string]string{"Remote": conn.RemoteAddr().String()}, time.Second,
		func(context.Context) (io.ReadWriteCloser, error) { return conn, nil })
	events := ch.Open(ctx)
	for ev := range events {
		if ev.Type == channel.EventConnected {
			break
		}
	}
	defer func() {
		_ = ch.Close()
		for range events {
		}
	}()

	link := datalink.NewLink(t.cfg.Datalink)
	link.SetLabel("simulator")
	if err := link.Attach(ch); err != nil {
		logs.Errf("simulator.ServeConn attach err=%v", err)
		return
	}
	p := &peer{link: link, queue: make(chan map[string]string, 16)}
	t.mu.Lock()
	t.peers[p] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.peers, p)
		t.mu.Unlock()
	}()

	workCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.work(workCtx, p)
	}()
	defer wg.Wait()
	defer stop()

	logs.Infof("simulator.ServeConn remote=%s connected", conn.RemoteAddr())
	err := link.Serve(ctx, func(b []byte) { t.inbound(p, b) })
	logs.Infof("simulator.ServeConn remote=%s closed err=%v", conn.RemoteAddr(), err)
}

func (t *Terminal) inbound(p *peer, b []byte) {
	bag, err := tags.Unmarshal(b)
	if err != nil {
		logs.Warnf("simulator.inbound malformed payload err=%v", err)
		return
	}
	if tags.Classify(bag) != tags.ClassRequest {
		logs.Debugf("simulator.inbound ignoring non-request payload")
		return
	}
	t.mu.Lock()
	t.received = append(t.received, bag)
	t.mu.Unlock()
	select {
	case p.queue <- bag:
	default:
		logs.Warnf("simulator.inbound queue full, dropping request seq=%s", bag[tags.KeySequenceNumber])
	}
}

// work sends the ready status and then answers queued requests in order.
func (t *Terminal) work(ctx context.Context, p *peer) {
	if t.cfg.Ready != "" {
		t.send(ctx, p, Status(t.cfg.Ready))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.queue:
			for _, msg := range t.cfg.Progress {
				t.send(ctx, p, Status(msg))
			}
			if t.cfg.Delay > 0 {
				timer := time.NewTimer(t.cfg.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if resp := t.respond(req); resp != nil {
				t.send(ctx, p, resp)
			}
		}
	}
}

func (t *Terminal) respond(req map[string]string) map[string]string {
	var resp map[string]string
	if t.cfg.Respond != nil {
		resp = t.cfg.Respond(req)
		if resp == nil {
			return nil
		}
	} else {
		t.mu.Lock()
		t.refNum++
		ref := t.refNum
		t.mu.Unlock()
		resp = Approve(req, strconv.Itoa(ref))
	}
	if _, ok := resp[tags.KeyClass]; !ok {
		resp[tags.KeyClass] = string(tags.ClassResponse)
	}
	if _, ok := resp[tags.KeySequenceNumber]; !ok {
		resp[tags.KeySequenceNumber] = req[tags.KeySequenceNumber]
	}
	return resp
}

func (t *Terminal) send(ctx context.Context, p *peer, bag map[string]string) {
	b, err := tags.Marshal(bag)
	if err != nil {
		logs.Errf("simulator.send marshal err=%v", err)
		return
	}
	if err := p.link.Send(ctx, b); err != nil {
		logs.Debugf("simulator.send err=%v", err)
	}
}

// Push sends bag to every connected POS and waits for their ACKs.
func (t *Terminal) Push(ctx context.Context, bag map[string]string) error {
	t.mu.Lock()
	peers := make([]*peer, 0, len(t.peers))
	for p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	if len(peers) == 0 {
		return ErrNoPeer
	}
	b, err := tags.Marshal(bag)
	if err != nil {
		return err
	}
	for _, p := range peers {
		if err := p.link.Send(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// Peers returns the number of connected POS sessions.
func (t *Terminal) Peers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Received returns copies of the requests seen so far.
func (t *Terminal) Received() []map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]string, 0, len(t.received))
	for _, bag := range t.received {
		cp := make(map[string]string, len(bag))
		for k, v := range bag {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Status builds an unsolicited status update.
func Status(msg string) map[string]string {
	return map[string]string{
		tags.KeyClass:         string(tags.ClassStatus),
		tags.KeyStatusMessage: msg,
	}
}

// Approve builds an approval reply for req.
func Approve(req map[string]string, transRefNum string) map[string]string {
	resp := map[string]string{
		tags.KeyClass:          string(tags.ClassResponse),
		tags.KeyType:           req[tags.KeyRequest],
		tags.KeySequenceNumber: req[tags.KeySequenceNumber],
		"Result":               "A",
		"ResultReason":         "00",
		"Message":              "Approval",
		"TransRefNum":          transRefNum,
		"TimeStamp":            time.Now().UTC().Format("20060102150405"),
	}
	for _, key := range []string{"RequesterTransRefNum", "Amount", "Currency"} {
		if v, ok := req[key]; ok {
			resp[key] = v
		}
	}
	return resp
}
