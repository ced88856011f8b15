package datalink

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/protocol"
	"github.com/danmuck/integractl/internal/protocol/frame"
	"github.com/danmuck/integractl/internal/protocol/schema"
	"github.com/danmuck/integractl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// harness runs a Link over net.Pipe; the test plays the terminal on peer.
type harness struct {
	link      *Link
	ch        channel.Channel
	peer      net.Conn
	frames    chan frame.Frame
	delivered chan string
	runErr    chan error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	client, peer := net.Pipe()
	ch := channel.NewStream("pipe", nil, time.Second, func(context.Context) (io.ReadWriteCloser, error) {
		return client, nil
	})
	events := ch.Open(context.Background())
	require.Equal(t, channel.EventConnecting, (<-events).Type)
	require.Equal(t, channel.EventConnected, (<-events).Type)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		link:      NewLink(cfg),
		ch:        ch,
		peer:      peer,
		frames:    make(chan frame.Frame, 64),
		delivered: make(chan string, 64),
		runErr:    make(chan error, 1),
		cancel:    cancel,
	}
	h.link.SetLabel(t.Name())

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		dec := frame.NewDecoder(peer, frame.DefaultLimits())
		for {
			f, err := dec.Next()
			if err != nil {
				if frame.Recoverable(err) {
					continue
				}
				close(h.frames)
				return
			}
			h.frames <- f
		}
	}()
	go func() {
		defer h.wg.Done()
		h.runErr <- h.link.Run(ctx, ch, func(p []byte) { h.delivered <- string(p) })
	}()
	require.Eventually(t, h.link.Ready, time.Second, time.Millisecond)

	t.Cleanup(func() {
		h.cancel()
		_ = h.ch.Close()
		_ = h.peer.Close()
		h.wg.Wait()
	})
	return h
}

func (h *harness) next(t *testing.T) frame.Frame {
	t.Helper()
	select {
	case f, ok := <-h.frames:
		require.True(t, ok, "peer stream closed")
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame at peer")
	}
	return frame.Frame{}
}

func (h *harness) write(t *testing.T, f frame.Frame) {
	t.Helper()
	require.NoError(t, frame.WriteFrame(h.peer, f, frame.Options{}))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AckTimeout = 200 * time.Millisecond
	return cfg
}

func TestSendCompletesOnMatchingAck(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig())

	for i, payload := range []string{"first", "second"} {
		sent := make(chan error, 1)
		go func() { sent <- h.link.Send(context.Background(), []byte(payload)) }()

		f := h.next(t)
		require.Equal(t, frame.KindData, f.Kind)
		require.Equal(t, uint16(i), f.Seq)
		require.Equal(t, payload, string(f.Payload))
		h.write(t, frame.Frame{Kind: frame.KindAck, Seq: f.Seq})
		require.NoError(t, <-sent)
	}
}

func TestSendRetransmitsIdenticalFrameThenNoAck(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.AckTimeout = 40 * time.Millisecond
	cfg.AckMaxRetries = 2
	h := newHarness(t, cfg)

	start := time.Now()
	sent := make(chan error, 1)
	go func() { sent <- h.link.Send(context.Background(), []byte("Amount\x1f10.00")) }()

	first := h.next(t)
	for i := 0; i < cfg.AckMaxRetries; i++ {
		again := h.next(t)
		require.Equal(t, first, again)
	}
	err := <-sent
	elapsed := time.Since(start)
	require.ErrorIs(t, err, protocol.ErrNoAck)
	require.Equal(t, protocol.NoAck, protocol.KindOf(err))
	require.GreaterOrEqual(t, elapsed, cfg.MaxSendDuration())
	require.Less(t, elapsed, cfg.MaxSendDuration()+time.Second)

	_, ok := h.link.Pending(first.Seq)
	require.False(t, ok)
	select {
	case f := <-h.frames:
		t.Fatalf("unexpected extra transmission %+v", f)
	case <-time.After(3 * cfg.AckTimeout):
	}
}

func TestMismatchedAckIsIgnored(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.AckTimeout = 60 * time.Millisecond
	h := newHarness(t, cfg)

	sent := make(chan error, 1)
	go func() { sent <- h.link.Send(context.Background(), []byte("x")) }()

	f := h.next(t)
	h.write(t, frame.Frame{Kind: frame.KindAck, Seq: f.Seq + 7})
	retry := h.next(t)
	require.Equal(t, f.Seq, retry.Seq)
	h.write(t, frame.Frame{Kind: frame.KindAck, Seq: f.Seq})
	require.NoError(t, <-sent)
}

func TestInboundDataIsAckedAndDuplicatesSuppressed(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig())

	h.write(t, frame.Frame{Kind: frame.KindData, Seq: 5, Payload: []byte("a")})
	ack := h.next(t)
	require.Equal(t, frame.KindAck, ack.Kind)
	require.Equal(t, uint16(5), ack.Seq)
	h.write(t, frame.Frame{Kind: frame.KindData, Seq: 5, Payload: []byte("a")})
	require.Equal(t, uint16(5), h.next(t).Seq)
	h.write(t, frame.Frame{Kind: frame.KindData, Seq: 6, Payload: []byte("b")})
	require.Equal(t, uint16(6), h.next(t).Seq)

	require.Equal(t, "a", <-h.delivered)
	require.Equal(t, "b", <-h.delivered)
	select {
	case p := <-h.delivered:
		t.Fatalf("duplicate redelivered: %q", p)
	default:
	}
}

func TestDuplicateCheckDisabledRedelivers(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.DuplicateCheck = false
	h := newHarness(t, cfg)

	for i := 0; i < 2; i++ {
		h.write(t, frame.Frame{Kind: frame.KindData, Seq: 1, Payload: []byte("same")})
		require.Equal(t, frame.KindAck, h.next(t).Kind)
	}
	require.Equal(t, "same", <-h.delivered)
	require.Equal(t, "same", <-h.delivered)
}

func TestBadChecksumIsDroppedWithoutAck(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig())

	bad, err := frame.Encode(frame.Frame{Kind: frame.KindData, Seq: 1, Payload: []byte("abc")}, frame.Options{})
	require.NoError(t, err)
	bad[bytes.IndexByte(bad, 'c')] ^= 0x01
	_, err = h.peer.Write(bad)
	require.NoError(t, err)
	h.write(t, frame.Frame{Kind: frame.KindData, Seq: 2, Payload: []byte("good")})

	ack := h.next(t)
	require.Equal(t, frame.KindAck, ack.Kind)
	require.Equal(t, uint16(2), ack.Seq)
	require.Equal(t, "good", <-h.delivered)
}

func TestKeepAliveIsAcked(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig())
	h.write(t, frame.Frame{Kind: frame.KindKeepAlive, Seq: 9})
	ack := h.next(t)
	require.Equal(t, frame.KindAck, ack.Kind)
	require.Equal(t, uint16(9), ack.Seq)
}

func TestIdleLinkSendsKeepAliveAndDetectsSilence(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.KeepAliveInterval = 40 * time.Millisecond
	h := newHarness(t, cfg)

	f := h.next(t)
	require.Equal(t, frame.KindKeepAlive, f.Kind)
	require.Empty(t, f.Payload)

	select {
	case err := <-h.runErr:
		require.ErrorIs(t, err, ErrPeerSilent)
	case <-time.After(2 * time.Second):
		t.Fatal("silent peer not detected")
	}
	require.Equal(t, channel.Disconnected, h.ch.State())
	require.False(t, h.link.Ready())
}

func TestMaskNonASCIIOnSend(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaskNonASCII = true
	h := newHarness(t, cfg)

	sent := make(chan error, 1)
	go func() { sent <- h.link.Send(context.Background(), []byte("caf\xc3\xa9")) }()
	f := h.next(t)
	require.Equal(t, "caf??", string(f.Payload))
	h.write(t, frame.Frame{Kind: frame.KindAck, Seq: f.Seq})
	require.NoError(t, <-sent)
}

func TestSequenceWrapsAtModulus(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.SequenceModulus = 2
	h := newHarness(t, cfg)

	for _, want := range []uint16{0, 1, 0} {
		sent := make(chan error, 1)
		go func() { sent <- h.link.Send(context.Background(), []byte("p")) }()
		f := h.next(t)
		require.Equal(t, want, f.Seq)
		h.write(t, frame.Frame{Kind: frame.KindAck, Seq: f.Seq})
		require.NoError(t, <-sent)
	}
}

func TestSendWithoutChannelIsNotConnected(t *testing.T) {
	testlog.Start(t)
	l := NewLink(DefaultConfig())
	require.ErrorIs(t, l.Send(context.Background(), []byte("x")), protocol.ErrNotConnected)
}

func TestRunEndsOnCancelAndFailsPendingSend(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig())

	sent := make(chan error, 1)
	go func() { sent <- h.link.Send(context.Background(), []byte("x")) }()
	h.next(t)
	h.cancel()
	require.ErrorIs(t, <-sent, protocol.ErrDisconnected)
	require.ErrorIs(t, <-h.runErr, context.Canceled)
}

func TestParseConfig(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseConfig(map[string]string{KeyDatalink: TypeStxEtxCrc})
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Equal(t, 28*time.Second, cfg.MaxSendDuration())

	cfg, err = ParseConfig(map[string]string{
		KeyAckTimeout:        "1500",
		KeyAckMaxRetries:     "0",
		KeyKeepAliveInterval: "10",
		KeyDuplicateCheck:    "false",
		KeyMaskNonASCII:      "yes",
		KeySynBytes:          "2",
		KeySequenceModulus:   "65536",
	})
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, cfg.AckTimeout)
	require.Equal(t, 0, cfg.AckMaxRetries)
	require.Equal(t, 30*time.Second, cfg.SilenceTimeout())
	require.False(t, cfg.DuplicateCheck)
	require.True(t, cfg.MaskNonASCII)
	require.Equal(t, 2, cfg.SynBytes)

	for key, value := range map[string]string{
		KeyAckTimeout:      "0",
		KeyAckMaxRetries:   "-1",
		KeySequenceModulus: "1",
		KeyDuplicateCheck:  "maybe",
	} {
		_, err := ParseConfig(map[string]string{key: value})
		var invalid *schema.InvalidValueError
		require.ErrorAs(t, err, &invalid, key)
		require.Equal(t, key, invalid.Key)
		require.Equal(t, protocol.InvalidOptions, protocol.KindOf(err))
	}
}

func TestFactory(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []string{TypeStxEtxCrc}, List())
	keys, err := OptionsFor(TypeStxEtxCrc)
	require.NoError(t, err)
	require.Equal(t, []string{KeyDatalink}, keys)

	err = ValidateOptions(map[string]string{})
	var missing *schema.MissingOptionError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, KeyDatalink, missing.Key)

	l, err := New(map[string]string{KeyDatalink: TypeStxEtxCrc, KeyAckTimeout: "250"})
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, l.Config().AckTimeout)
	require.Equal(t, TypeStxEtxCrc, l.Type())
}

func TestKeepAliveAckDoesNotCompleteDataSend(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.KeepAliveInterval = 100 * time.Millisecond
	cfg.AckTimeout = 150 * time.Millisecond
	cfg.AckMaxRetries = 0
	h := newHarness(t, cfg)

	ka := h.next(t)
	require.Equal(t, frame.KindKeepAlive, ka.Kind)

	sent := make(chan error, 1)
	go func() { sent <- h.link.Send(context.Background(), []byte("Amount\x1f1.00")) }()
	data := h.next(t)
	require.Equal(t, frame.KindData, data.Kind)
	require.NotEqual(t, ka.Seq, data.Seq)

	// the held keep-alive ACK arrives while the data frame is pending
	h.write(t, frame.Frame{Kind: frame.KindAck, Seq: ka.Seq})
	err := <-sent
	require.ErrorIs(t, err, protocol.ErrNoAck)
	_, ok := h.link.Pending(data.Seq)
	require.False(t, ok)
}

func TestOversizedPayloadFailsBeforeTransmission(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig())

	big := bytes.Repeat([]byte("x"), frame.DefaultLimits().MaxPayloadBytes+1)
	err := h.link.Send(context.Background(), big)
	require.ErrorIs(t, err, frame.ErrPayloadTooLarge)
	select {
	case f := <-h.frames:
		t.Fatalf("oversized payload transmitted %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	sent := make(chan error, 1)
	go func() { sent <- h.link.Send(context.Background(), []byte("ok")) }()
	f := h.next(t)
	require.Equal(t, uint16(0), f.Seq)
	h.write(t, frame.Frame{Kind: frame.KindAck, Seq: f.Seq})
	require.NoError(t, <-sent)
}
