// Package proxy is the delivery vehicle for unmodified target programs: a
// transparent TCP forwarder that listens locally and pipes each accepted
// connection to a fixed upstream through the intercepting dialer, so the
// upstream leg gets the configured latency without the target cooperating.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mhammerly/preload-latency/internal/config"
	"github.com/mhammerly/preload-latency/internal/intercept"
	"github.com/mhammerly/preload-latency/internal/metrics"
)

// Forwarder accepts connections on one local address and forwards them to
// one upstream.
type Forwarder struct {
	forward config.Forward
	dialer  *intercept.Dialer
	log     *slog.Logger
	tracer  trace.Tracer
}

func New(forward config.Forward, dialer *intercept.Dialer, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		forward: forward,
		dialer:  dialer,
		log:     log,
		tracer:  otel.Tracer("latencyd/proxy"),
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", f.forward.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", f.forward.Listen, err)
	}
	return f.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is cancelled or the listener
// fails. Each connection is handled on its own goroutine.
func (f *Forwarder) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	f.log.Info("forwarding", "listen", l.Addr().String(), "upstream", f.forward.Upstream)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			f.log.Warn("accept failed", "listen", f.forward.Listen, "err", err)
			continue
		}
		go f.handle(ctx, conn)
	}
}

func (f *Forwarder) handle(ctx context.Context, client net.Conn) {
	id := uuid.NewString()
	ctx, span := f.tracer.Start(ctx, "forward",
		trace.WithAttributes(
			attribute.String("conn.id", id),
			attribute.String("upstream", f.forward.Upstream),
		))
	defer span.End()
	defer client.Close()
	metrics.ForwardedConns.Inc()

	upstream, err := f.dialer.DialContext(ctx, "tcp", f.forward.Upstream)
	if err != nil {
		span.RecordError(err)
		f.log.Warn("dial upstream failed", "id", id, "upstream", f.forward.Upstream, "err", err)
		return
	}
	defer upstream.Close()
	f.log.Debug("forwarding connection", "id", id, "client", client.RemoteAddr().String())

	// Pipe both directions. When one side finishes, close both ends to
	// unblock the other copy, then wait for it so the byte counts below are
	// settled before they are read.
	var up, down int64
	done := make(chan struct{}, 2)
	go func() {
		up, _ = io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		down, _ = io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
	client.Close()
	upstream.Close()
	<-done

	span.SetAttributes(
		attribute.Int64("bytes.up", up),
		attribute.Int64("bytes.down", down),
	)
	f.log.Debug("connection finished", "id", id, "bytes_up", up, "bytes_down", down)
}
