package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/integractl/internal/datalink"
	logs "github.com/danmuck/integractl/internal/logging"
	"github.com/danmuck/integractl/internal/simulator"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5010", "listen address")
	ready := flag.String("ready", "Terminal ready", "status pushed when a POS connects; empty disables it")
	progress := flag.String("progress", "Insert card,Processing", "comma separated status messages sent before each response")
	delay := flag.Duration("delay", 0, "pause before each response")
	ackTimeout := flag.Duration("ack-timeout", 7*time.Second, "datalink ACK timeout")
	keepAlive := flag.Duration("keepalive", 0, "datalink keep-alive interval")
	flag.Parse()

	logs.ConfigureRuntime()

	cfg := simulator.DefaultConfig()
	cfg.Ready = *ready
	cfg.Progress = splitList(*progress)
	cfg.Delay = *delay
	cfg.Datalink = datalink.DefaultConfig()
	cfg.Datalink.AckTimeout = *ackTimeout
	cfg.Datalink.KeepAliveInterval = *keepAlive

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "termsim: %v\n", err)
		os.Exit(1)
	}
	logs.Warnf("termsim listening addr=%q", ln.Addr().String())
	if err := simulator.New(cfg).Serve(ctx, ln); err != nil {
		fmt.Fprintf(os.Stderr, "termsim: %v\n", err)
		os.Exit(1)
	}
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
