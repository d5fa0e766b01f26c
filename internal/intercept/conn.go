package intercept

import (
	"net"
	"time"

	"github.com/mhammerly/preload-latency/internal/metrics"
	"github.com/mhammerly/preload-latency/internal/registry"
)

// Conn wraps a stream connection. Reads and writes on intercepted sockets
// sleep the configured delay on the calling goroutine before delegating;
// results and errors pass through untouched. The delay is not cancellable:
// once a transfer call starts sleeping it sleeps the full duration, the same
// way real link latency would.
type Conn struct {
	net.Conn
	d     *Dialer
	fd    uintptr
	hasFD bool
}

// maybeDelay runs the per-call decision: registry classification first, then
// the global toggle. The registry lookup is released before sleeping; no lock
// is ever held across the sleep or the delegated call.
func (c *Conn) maybeDelay(op string) {
	if !c.hasFD || c.d.reg.Lookup(c.fd) != registry.Intercepted || !c.d.tog.Enabled() {
		metrics.PassthroughCalls.WithLabelValues(op).Inc()
		return
	}
	metrics.DelayedCalls.WithLabelValues(op).Inc()
	c.d.log.Debug("sleeping before transfer", "op", op, "fd", c.fd)
	time.Sleep(c.d.cfg.Delay)
}

func (c *Conn) Read(p []byte) (int, error) {
	c.maybeDelay("read")
	return c.Conn.Read(p)
}

func (c *Conn) Write(p []byte) (int, error) {
	c.maybeDelay("write")
	return c.Conn.Write(p)
}

// Close delegates first and drops the registry entry unconditionally, even
// when the underlying close reports an error: the descriptor number can be
// reused by the OS regardless of what close returned.
func (c *Conn) Close() error {
	err := c.Conn.Close()
	if c.hasFD {
		c.d.reg.Drop(c.fd)
	}
	return err
}
