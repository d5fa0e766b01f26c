// Package resolve maintains the matched address table: the set of resolved
// addresses believed to belong to target hosts, fed by eager pre-resolution
// at startup and by passively observing lookups performed through the layer.
package resolve

import (
	"net/netip"
	"sync"

	"github.com/mhammerly/preload-latency/internal/metrics"
)

// Table is a grow-only concurrent set of IP addresses. Absence of an address
// means "not yet known to be a target", never "definitely not a target".
type Table struct {
	mu    sync.RWMutex
	addrs map[netip.Addr]struct{}
}

func NewTable() *Table {
	return &Table{addrs: make(map[netip.Addr]struct{})}
}

// Add inserts addresses into the table. Addresses are canonicalized so that a
// v4-mapped v6 form and its plain v4 form match each other.
func (t *Table) Add(addrs ...netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	t.mu.Lock()
	for _, a := range addrs {
		if a.IsValid() {
			t.addrs[a.Unmap()] = struct{}{}
		}
	}
	metrics.MatchedAddrs.Set(float64(len(t.addrs)))
	t.mu.Unlock()
}

// Contains reports whether the address is known to belong to a target host.
func (t *Table) Contains(addr netip.Addr) bool {
	t.mu.RLock()
	_, ok := t.addrs[addr.Unmap()]
	t.mu.RUnlock()
	return ok
}

// ContainsString is Contains for textual addresses. Strings that do not parse
// as an IP are never in the table.
func (t *Table) ContainsString(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return t.Contains(addr)
}

// Len returns the number of tracked addresses.
func (t *Table) Len() int {
	t.mu.RLock()
	n := len(t.addrs)
	t.mu.RUnlock()
	return n
}
