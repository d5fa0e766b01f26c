// Package intercept is the boundary between the latency layer and the real
// networking implementation: the set of wrapped entry points (dial, read,
// write, close, and the packet variants) that classify sockets and inject
// delay. Everything behind this package is ordinary application logic.
package intercept

import (
	"context"
	"log/slog"
	"net"

	"github.com/mhammerly/preload-latency/internal/config"
	"github.com/mhammerly/preload-latency/internal/registry"
	"github.com/mhammerly/preload-latency/internal/resolve"
	"github.com/mhammerly/preload-latency/internal/toggle"
)

// ContextDialer matches the dial surface of net.Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dialer wraps a real dialer. Every connection it establishes is classified
// against the configured host set and the matched address table, registered,
// and returned wrapped so its transfer calls go through the delay decision.
type Dialer struct {
	// Forward is the real dialer. Nil means a zero net.Dialer.
	Forward ContextDialer

	cfg   *config.Config
	table *resolve.Table
	reg   *registry.Registry
	tog   *toggle.State
	log   *slog.Logger
}

func NewDialer(cfg *config.Config, table *resolve.Table, reg *registry.Registry, tog *toggle.State, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{cfg: cfg, table: table, reg: reg, tog: tog, log: log}
}

// classify decides interception for a remote endpoint. An empty host set
// intercepts every successfully addressed connection without consulting the
// table; otherwise the hostname must be in the allow-list, or the address
// must have been recorded by a prior resolution.
func (d *Dialer) classify(address string) registry.Class {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	if d.cfg.MatchAll() {
		return registry.Intercepted
	}
	if d.cfg.MatchHost(host) {
		return registry.Intercepted
	}
	if d.table.ContainsString(host) {
		return registry.Intercepted
	}
	return registry.PassThrough
}

// DialContext classifies the endpoint, dials for real, and wraps the result.
// Dial errors propagate verbatim; a failed dial yields no descriptor, so
// nothing is registered.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	class := d.classify(address)
	forward := d.Forward
	if forward == nil {
		forward = &net.Dialer{}
	}
	conn, err := forward.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return d.wrap(conn, class), nil
}

// Dial is DialContext with a background context.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// Wrap classifies and tracks a connection established elsewhere (accepted or
// inherited) by its remote address.
func (d *Dialer) Wrap(conn net.Conn) net.Conn {
	class := registry.PassThrough
	if addr := conn.RemoteAddr(); addr != nil {
		class = d.classify(addr.String())
	}
	return d.wrap(conn, class)
}

func (d *Dialer) wrap(conn net.Conn, class registry.Class) *Conn {
	fd, ok := registry.FD(conn)
	if ok {
		d.reg.Track(fd, class)
		d.log.Debug("tracking socket", "fd", fd, "class", class.String(), "remote", remoteString(conn))
	}
	return &Conn{Conn: conn, d: d, fd: fd, hasFD: ok}
}

// WrapPacket classifies a packet socket by its local address, mirroring how
// bound datagram sockets are matched, and tracks it like a stream socket.
func (d *Dialer) WrapPacket(pc net.PacketConn) net.PacketConn {
	class := registry.PassThrough
	if d.cfg.MatchAll() {
		class = registry.Intercepted
	} else if addr := pc.LocalAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil && d.table.ContainsString(host) {
			class = registry.Intercepted
		}
	}
	fd, ok := registry.FD(pc)
	if ok {
		d.reg.Track(fd, class)
	}
	return &PacketConn{PacketConn: pc, d: d, fd: fd, hasFD: ok}
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
