// Package fleet runs several terminal sessions side by side. Sessions share
// nothing but the read-only factories.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/protocol/session"
	"github.com/danmuck/integractl/internal/terminal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateTerminal = errors.New("fleet: duplicate terminal name")
	ErrUnnamedTerminal   = errors.New("fleet: terminal without name")
)

// Spec describes one terminal of the fleet.
type Spec struct {
	Name      string
	Channel   map[string]string
	Datalink  map[string]string
	Reconnect bool
}

// Status is a point-in-time view of one terminal.
type Status struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
}

type Fleet struct {
	mu      sync.Mutex
	order   []string
	clients map[string]*terminal.Client
	closed  bool
}

// New builds one unstarted client per spec. base supplies the backoff and
// reconnect limits; each spec decides whether to reconnect.
func New(specs []Spec, base session.Config) (*Fleet, error) {
	f := &Fleet{clients: make(map[string]*terminal.Client, len(specs))}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			f.Close()
			return nil, ErrUnnamedTerminal
		}
		if _, ok := f.clients[name]; ok {
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTerminal, name)
		}
		cfg := base
		cfg.Reconnect = spec.Reconnect
		c, err := terminal.New(name, spec.Channel, spec.Datalink, cfg)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("fleet: terminal %s: %w", name, err)
		}
		f.clients[name] = c
		f.order = append(f.order, name)
	}
	return f, nil
}

// Names returns terminal names in declaration order.
func (f *Fleet) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *Fleet) Terminal(name string) (*terminal.Client, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[name]
	return c, ok
}

// Connect starts every session concurrently and waits until all are connected.
func (f *Fleet) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range f.Names() {
		name := name
		c, _ := f.Terminal(name)
		g.Go(func() error {
			if err := c.Start(ctx); err != nil && !errors.Is(err, session.ErrStarted) {
				return fmt.Errorf("fleet: start %s: %w", name, err)
			}
			if err := c.WaitConnected(gctx); err != nil {
				return fmt.Errorf("fleet: connect %s: %w", name, err)
			}
			logs.Infof("fleet.Connect terminal=%s connected", name)
			return nil
		})
	}
	return g.Wait()
}

// Run starts every session, blocks until ctx ends and then closes the fleet.
// Sessions that fail to connect are logged; Run only returns their error when
// none connected at all.
func (f *Fleet) Run(ctx context.Context) error {
	defer f.Close()
	var mu sync.Mutex
	var failures []error
	var g errgroup.Group
	for _, name := range f.Names() {
		name := name
		c, _ := f.Terminal(name)
		g.Go(func() error {
			if err := c.Start(ctx); err != nil && !errors.Is(err, session.ErrStarted) {
				return fmt.Errorf("fleet: start %s: %w", name, err)
			}
			if err := c.WaitConnected(ctx); err != nil && ctx.Err() == nil {
				logs.Warnf("fleet.Run terminal=%s err=%v", name, err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failures) > 0 && len(failures) == len(f.Names()) {
		return errors.Join(failures...)
	}
	<-ctx.Done()
	return nil
}

// Statuses reports every terminal sorted by name.
func (f *Fleet) Statuses() []Status {
	f.mu.Lock()
	clients := make([]*terminal.Client, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	out := make([]Status, 0, len(clients))
	for _, c := range clients {
		s := Status{
			Name:      c.Name(),
			State:     c.State().String(),
			Connected: c.IsConnected(),
			SessionID: c.Session().ID(),
		}
		if ch := c.Session().Channel(); ch != nil {
			s.Channel = ch.Type()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close disposes every session and waits for their receive goroutines.
func (f *Fleet) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	clients := make([]*terminal.Client, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Dispose()
			<-c.Session().Done()
		}()
	}
	wg.Wait()
}
