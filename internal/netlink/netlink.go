// Package netlink models the network-join boundary. Sensor hardware
// joins a wireless network with stored credentials; a host build treats
// broker reachability as the join criterion, since the operating system
// owns the actual link.
package netlink

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Joiner brings the network link up. Success is a bare boolean; the
// caller retries or escalates, it never inspects a cause.
type Joiner interface {
	Join(ctx context.Context, ssid, passphrase string) bool
}

// Probe joins by TCP-dialing a fixed address, normally the broker. SSID
// and passphrase are accepted for contract parity and ignored.
type Probe struct {
	// Timeout bounds a single dial attempt; zero means 5 seconds.
	Timeout time.Duration

	addr string
	log  *slog.Logger
}

// NewProbe returns a probe against addr (host:port).
func NewProbe(addr string, log *slog.Logger) *Probe {
	return &Probe{addr: addr, log: log}
}

// Join dials the probe address and reports whether it answered.
func (p *Probe) Join(ctx context.Context, ssid, passphrase string) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		p.log.Debug("network probe failed", "addr", p.addr, "error", err)
		return false
	}
	conn.Close()
	return true
}

// Static reports a fixed join outcome, for tests and for deployments
// where the link is known to be managed elsewhere.
type Static struct {
	Up bool
}

// Join reports the configured outcome.
func (s Static) Join(context.Context, string, string) bool {
	return s.Up
}
