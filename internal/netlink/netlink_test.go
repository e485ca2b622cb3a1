package netlink

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeJoinReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewProbe(ln.Addr().String(), quietLogger())
	if !p.Join(context.Background(), "lab", "secret") {
		t.Error("Join = false against a listening address")
	}
}

func TestProbeJoinUnreachable(t *testing.T) {
	// Grab a free port and close it again so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewProbe(addr, quietLogger())
	p.Timeout = 200 * time.Millisecond
	if p.Join(context.Background(), "lab", "secret") {
		t.Error("Join = true against a closed address")
	}
}

func TestProbeJoinCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProbe("192.0.2.1:1883", quietLogger())
	p.Timeout = 5 * time.Second

	start := time.Now()
	if p.Join(ctx, "lab", "secret") {
		t.Error("Join = true with cancelled context")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled Join took %v, want immediate return", elapsed)
	}
}

func TestStatic(t *testing.T) {
	if !(Static{Up: true}).Join(context.Background(), "", "") {
		t.Error("Static{Up: true}.Join = false")
	}
	if (Static{}).Join(context.Background(), "", "") {
		t.Error("Static{}.Join = true")
	}
}
