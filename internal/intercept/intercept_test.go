package intercept

import (
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhammerly/preload-latency/internal/config"
	"github.com/mhammerly/preload-latency/internal/registry"
	"github.com/mhammerly/preload-latency/internal/resolve"
	"github.com/mhammerly/preload-latency/internal/toggle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startEcho runs a loopback echo server for the duration of the test.
func startEcho(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().String()
}

type fixture struct {
	dialer *Dialer
	table  *resolve.Table
	reg    *registry.Registry
	tog    *toggle.State
}

func newFixture(cfg *config.Config) *fixture {
	f := &fixture{
		table: resolve.NewTable(),
		reg:   registry.New(),
		tog:   toggle.New(discardLogger()),
	}
	f.dialer = NewDialer(cfg, f.table, f.reg, f.tog, discardLogger())
	return f
}

func roundTrip(t *testing.T, conn net.Conn, payload string) time.Duration {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	start := time.Now()
	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.Equal(t, payload, string(buf))
	return elapsed
}

func TestInterceptAllDelaysTransfers(t *testing.T) {
	addr := startEcho(t)
	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: 60 * time.Millisecond})

	conn, err := f.dialer.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, 1, f.reg.Len())

	// Write sleeps once and the echo read sleeps once.
	elapsed := roundTrip(t, conn, "ping")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestUnmatchedHostPassesThrough(t *testing.T) {
	addr := startEcho(t)
	f := newFixture(&config.Config{Hosts: config.HostSet("example.com"), Delay: 300 * time.Millisecond})

	conn, err := f.dialer.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	elapsed := roundTrip(t, conn, "ping")
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestMatchedAddressIsIntercepted(t *testing.T) {
	addr := startEcho(t)
	f := newFixture(&config.Config{Hosts: config.HostSet("echo.test"), Delay: 60 * time.Millisecond})

	// As if "echo.test" had been resolved to loopback earlier.
	f.table.Add(netip.MustParseAddr("127.0.0.1"))

	conn, err := f.dialer.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	elapsed := roundTrip(t, conn, "ping")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestToggleDisabledSkipsDelay(t *testing.T) {
	addr := startEcho(t)
	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: 300 * time.Millisecond})
	f.tog.Set(false)

	conn, err := f.dialer.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	elapsed := roundTrip(t, conn, "ping")
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestCloseDropsRegistryEntry(t *testing.T) {
	addr := startEcho(t)
	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: time.Millisecond})

	conn, err := f.dialer.Dial("tcp", addr)
	require.NoError(t, err)
	require.Equal(t, 1, f.reg.Len())

	require.NoError(t, conn.Close())
	assert.Equal(t, 0, f.reg.Len())
}

func TestDescriptorReuseIsNotContaminated(t *testing.T) {
	addr := startEcho(t)
	reg := registry.New()
	tog := toggle.New(discardLogger())

	// First connection: intercept-everything with an obnoxious delay.
	all := NewDialer(&config.Config{Hosts: config.HostSet(), Delay: 500 * time.Millisecond},
		resolve.NewTable(), reg, tog, discardLogger())
	first, err := all.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, first.Close())
	require.Equal(t, 0, reg.Len())

	// Second connection shares the registry but matches nothing; the kernel
	// will likely hand back the same descriptor number. It must not inherit
	// the old classification.
	none := NewDialer(&config.Config{Hosts: config.HostSet("example.com"), Delay: 500 * time.Millisecond},
		resolve.NewTable(), reg, tog, discardLogger())
	second, err := none.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()

	elapsed := roundTrip(t, second, "ping")
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestSyntheticConnFailsOpen(t *testing.T) {
	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: 300 * time.Millisecond})

	client, server := net.Pipe()
	defer server.Close()
	go io.Copy(io.Discard, server)

	wrapped := f.dialer.Wrap(client)
	defer wrapped.Close()
	require.Equal(t, 0, f.reg.Len())

	start := time.Now()
	_, err := wrapped.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestDialErrorPropagatesWithoutTracking(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: time.Millisecond})
	_, err = f.dialer.Dial("tcp", addr)
	require.Error(t, err)
	assert.Equal(t, 0, f.reg.Len())
}

func TestWrapClassifiesByRemoteAddress(t *testing.T) {
	addr := startEcho(t)
	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: time.Millisecond})

	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	conn := f.dialer.Wrap(raw)
	defer conn.Close()
	assert.Equal(t, 1, f.reg.Len())
}

func TestPacketConnDelaysWriteTo(t *testing.T) {
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	local, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	f := newFixture(&config.Config{Hosts: config.HostSet(), Delay: 60 * time.Millisecond})
	pc := f.dialer.WrapPacket(local)
	defer pc.Close()

	start := time.Now()
	_, err = pc.WriteTo([]byte("ping"), peer.LocalAddr())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPacketConnPassesThroughWhenUnmatched(t *testing.T) {
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	local, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	f := newFixture(&config.Config{Hosts: config.HostSet("example.com"), Delay: 300 * time.Millisecond})
	pc := f.dialer.WrapPacket(local)
	defer pc.Close()

	start := time.Now()
	_, err = pc.WriteTo([]byte("ping"), peer.LocalAddr())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
