// Package latency measures round-trip time to cluster endpoints and
// streams samples to the active Edge Cluster Frontend while the runtime
// is serving.
package latency

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
)

// Pinger measures one round trip to a host. Implementations return the
// measured latency in milliseconds, or -1.0 when the measurement could
// not be taken; callers skip the sample in that case.
type Pinger interface {
	Ping(ctx context.Context, host string) float64
}

// TCPPinger times TCP connection establishment. Raw-socket ICMP needs
// privileges a device library cannot assume, so the connect handshake
// stands in for the echo round trip; the measurement model (one sample,
// milliseconds, -1.0 sentinel) is unchanged.
type TCPPinger struct {
	Timeout time.Duration
}

// NewTCPPinger returns a pinger with the given dial timeout.
func NewTCPPinger(timeout time.Duration) *TCPPinger {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TCPPinger{Timeout: timeout}
}

// Ping dials the host once and returns the handshake time in
// milliseconds, or -1.0 on failure.
func (p *TCPPinger) Ping(ctx context.Context, host string) float64 {
	dialer := &net.Dialer{Timeout: p.Timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return -1.0
	}
	elapsed := time.Since(start)
	conn.Close()
	return float64(elapsed) / float64(time.Millisecond)
}

// HostFromEndpoint derives the pingable host:port from a cluster endpoint
// URL: scheme and path are stripped, and a missing port defaults to the
// scheme's well-known one.
func HostFromEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		// Not a URL; treat the raw value as the host.
		host := strings.TrimSuffix(endpoint, "/")
		if host != "" && !strings.Contains(host, ":") {
			host += ":443"
		}
		return host
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "http":
			host += ":80"
		default:
			host += ":443"
		}
	}
	return host
}
