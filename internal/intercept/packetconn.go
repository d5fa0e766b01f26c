package intercept

import (
	"net"
	"time"

	"github.com/mhammerly/preload-latency/internal/metrics"
	"github.com/mhammerly/preload-latency/internal/registry"
)

// PacketConn wraps a datagram socket with the same delay decision as Conn,
// applied to the ReadFrom/WriteTo surface.
type PacketConn struct {
	net.PacketConn
	d     *Dialer
	fd    uintptr
	hasFD bool
}

func (p *PacketConn) maybeDelay(op string) {
	if !p.hasFD || p.d.reg.Lookup(p.fd) != registry.Intercepted || !p.d.tog.Enabled() {
		metrics.PassthroughCalls.WithLabelValues(op).Inc()
		return
	}
	metrics.DelayedCalls.WithLabelValues(op).Inc()
	p.d.log.Debug("sleeping before transfer", "op", op, "fd", p.fd)
	time.Sleep(p.d.cfg.Delay)
}

func (p *PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	p.maybeDelay("read_from")
	return p.PacketConn.ReadFrom(b)
}

func (p *PacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	p.maybeDelay("write_to")
	return p.PacketConn.WriteTo(b, addr)
}

func (p *PacketConn) Close() error {
	err := p.PacketConn.Close()
	if p.hasFD {
		p.d.reg.Drop(p.fd)
	}
	return err
}
