package connectivity

import (
	"context"
	"fmt"
	"net"
)

// Prober checks whether the remote side is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function, such as a store's Ping, to Prober.
type ProbeFunc func(ctx context.Context) error

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// TCPProber reports reachability by opening a TCP connection.
type TCPProber struct {
	Address string
}

// Probe dials Address and closes the connection right away.
func (p TCPProber) Probe(ctx context.Context) error {
	if p.Address == "" {
		return fmt.Errorf("connectivity: tcp probe: address is required")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("connectivity: tcp probe %s: %w", p.Address, err)
	}
	return conn.Close()
}
