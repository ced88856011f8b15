package simulator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	"github.com/danmuck/integractl/internal/protocol/tags"
	"github.com/danmuck/integractl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/nettest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pos is a bare datalink peer standing in for the point of sale.
type pos struct {
	link   *datalink.Link
	inbox  chan map[string]string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func fastLink() datalink.Config {
	cfg := datalink.DefaultConfig()
	cfg.AckTimeout = 300 * time.Millisecond
	cfg.AckMaxRetries = 1
	return cfg
}

func startTerminal(t *testing.T, cfg Config) (*Terminal, string, string) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	sim := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sim.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sim, host, port
}

func dialPOS(t *testing.T, host, port string) *pos {
	t.Helper()
	ch, err := channel.New(map[string]string{
		channel.KeyChannel: channel.TypeSocketClient,
		channel.KeyHost:    host,
		channel.KeyPort:    port,
	})
	require.NoError(t, err)
	events := ch.Open(context.Background())
	for ev := range events {
		require.NotEqual(t, channel.EventError, ev.Type)
		if ev.Type == channel.EventConnected {
			break
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pos{link: datalink.NewLink(fastLink()), inbox: make(chan map[string]string, 16), cancel: cancel}
	p.link.SetLabel("pos")
	require.NoError(t, p.link.Attach(ch))
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		_ = p.link.Serve(ctx, func(b []byte) {
			bag, err := tags.Unmarshal(b)
			if err == nil {
				p.inbox <- bag
			}
		})
	}()
	go func() {
		defer p.wg.Done()
		for range events {
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = ch.Close()
		p.wg.Wait()
	})
	return p
}

func (p *pos) next(t *testing.T) map[string]string {
	t.Helper()
	select {
	case bag := <-p.inbox:
		return bag
	case <-time.After(3 * time.Second):
		t.Fatalf("no payload from simulator")
		return nil
	}
}

func (p *pos) request(t *testing.T, bag map[string]string) {
	t.Helper()
	b, err := tags.Marshal(bag)
	require.NoError(t, err)
	require.NoError(t, p.link.Send(context.Background(), b))
}

func TestTerminalAnnouncesAndAnswersWithEchoedSequence(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Datalink = fastLink()
	sim, host, port := startTerminal(t, cfg)
	p := dialPOS(t, host, port)

	ready := p.next(t)
	require.Equal(t, tags.ClassStatus, tags.Classify(ready))
	require.Equal(t, "Terminal ready", ready[tags.KeyStatusMessage])

	p.request(t, map[string]string{
		tags.KeyClass:          string(tags.ClassRequest),
		tags.KeyRequest:        "Sale-Terminal",
		tags.KeySequenceNumber: "41",
		"RequesterTransRefNum": "r-1",
		"Amount":               "12.50",
	})

	for _, want := range []string{"Insert card", "Processing"} {
		status := p.next(t)
		require.Equal(t, want, status[tags.KeyStatusMessage])
	}
	resp := p.next(t)
	require.Equal(t, tags.ClassResponse, tags.Classify(resp))
	require.Equal(t, "41", resp[tags.KeySequenceNumber])
	require.Equal(t, "Sale-Terminal", resp[tags.KeyType])
	require.Equal(t, "r-1", resp["RequesterTransRefNum"])
	require.Equal(t, "12.50", resp["Amount"])
	require.NotEmpty(t, resp["TransRefNum"])

	received := sim.Received()
	require.Len(t, received, 1)
	require.Equal(t, "41", received[0][tags.KeySequenceNumber])
}

func TestCustomResponderAndSilentRequests(t *testing.T) {
	testlog.Start(t)
	cfg := Config{
		Datalink: fastLink(),
		Respond: func(req map[string]string) map[string]string {
			if req["RequesterTransRefNum"] == "silent" {
				return nil
			}
			return map[string]string{tags.KeyType: req[tags.KeyRequest], "Result": "D"}
		},
	}
	_, host, port := startTerminal(t, cfg)
	p := dialPOS(t, host, port)

	p.request(t, map[string]string{tags.KeyRequest: "EftData", tags.KeySequenceNumber: "1", "RequesterTransRefNum": "silent"})
	p.request(t, map[string]string{tags.KeyRequest: "EftData", tags.KeySequenceNumber: "2", "RequesterTransRefNum": "loud"})

	resp := p.next(t)
	require.Equal(t, "2", resp[tags.KeySequenceNumber])
	require.Equal(t, "D", resp["Result"])
	require.Equal(t, string(tags.ClassResponse), resp[tags.KeyClass])
}

func TestPushReachesConnectedPeers(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Datalink: fastLink()}
	sim, host, port := startTerminal(t, cfg)
	require.ErrorIs(t, sim.Push(context.Background(), Status("nobody")), ErrNoPeer)

	p := dialPOS(t, host, port)
	require.Eventually(t, func() bool { return sim.Peers() == 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, sim.Push(ctx, Status("Reboot pending")))
	require.Equal(t, "Reboot pending", p.next(t)[tags.KeyStatusMessage])
}

func TestNonRequestPayloadsAreIgnored(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Datalink: fastLink()}
	sim, host, port := startTerminal(t, cfg)
	p := dialPOS(t, host, port)

	p.request(t, Status("hello"))
	p.request(t, map[string]string{tags.KeyRequest: "EftData", tags.KeySequenceNumber: "5"})
	require.Equal(t, "5", p.next(t)[tags.KeySequenceNumber])
	require.Len(t, sim.Received(), 1)
}
