package resolve

import (
	"context"
	"log/slog"
	"net"
	"net/netip"

	"github.com/mhammerly/preload-latency/internal/config"
	"github.com/mhammerly/preload-latency/internal/metrics"
)

// LookupFunc performs a real hostname resolution. It matches the shape of
// net.Resolver.LookupNetIP with the "ip" network.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Resolver wraps hostname resolution. The real lookup always runs first and
// its results are returned unmodified; when the queried name matches the
// allow-list, every returned address is recorded in the table before the
// caller sees them, so a subsequent connect to any of those addresses is
// classified correctly.
type Resolver struct {
	cfg    *config.Config
	table  *Table
	lookup LookupFunc
	log    *slog.Logger
}

// NewResolver builds a Resolver. A nil lookup uses the system resolver.
func NewResolver(cfg *config.Config, table *Table, lookup LookupFunc, log *slog.Logger) *Resolver {
	if lookup == nil {
		lookup = defaultLookup
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{cfg: cfg, table: table, lookup: lookup, log: log}
}

// LookupNetIP resolves host and records the results when the name matches
// the allow-list. Resolution errors propagate verbatim; nothing is recorded
// on error.
func (r *Resolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if r.cfg.MatchHost(host) {
		r.log.Debug("recording resolved target host", "host", host, "addrs", len(addrs))
		r.table.Add(addrs...)
	}
	return addrs, nil
}

// LookupHost is LookupNetIP with textual results, matching the
// net.Resolver.LookupHost shape most callers use.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, err := r.LookupNetIP(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Unmap().String()
	}
	return out, nil
}

// Preresolve resolves every allow-list host once and records the results.
// Used when the target connects by IP without a lookup the layer can observe.
// Individual failures are logged and skipped; startup never aborts on them.
func (r *Resolver) Preresolve(ctx context.Context) {
	if !r.cfg.ResolveEager {
		return
	}
	for _, host := range r.cfg.HostList() {
		r.log.Info("pre-resolving host", "host", host)
		addrs, err := r.lookup(ctx, host)
		if err != nil {
			metrics.ResolveFailures.Inc()
			r.log.Warn("failed to pre-resolve host", "host", host, "err", err)
			continue
		}
		r.table.Add(addrs...)
	}
}
