// Package registry tracks live socket descriptors and their interception
// classification. The operating system reuses descriptor numbers, so an entry
// is only meaningful between connection establishment and close; close must
// always remove it, or a later unrelated connection on the same number would
// inherit a stale classification.
package registry

import (
	"sync"
	"syscall"

	"github.com/mhammerly/preload-latency/internal/metrics"
)

// Class is a descriptor's interception classification.
type Class uint8

const (
	// PassThrough sockets are forwarded untouched. This is also the answer
	// for any descriptor the registry has never seen: unknown traffic is
	// never delayed.
	PassThrough Class = iota

	// Intercepted sockets have the configured delay injected before every
	// transfer call.
	Intercepted
)

func (c Class) String() string {
	if c == Intercepted {
		return "intercepted"
	}
	return "passthrough"
}

// Registry is a concurrent descriptor-to-classification table. A single lock
// guards the whole table; it is never held across a sleep or a delegated
// networking call.
type Registry struct {
	mu    sync.RWMutex
	socks map[uintptr]Class
}

func New() *Registry {
	return &Registry{socks: make(map[uintptr]Class)}
}

// Track records the classification for a descriptor, replacing any previous
// entry. Descriptors 0-2 are never tracked; stdio is not a socket we want to
// slow down even if a confused target dials over it.
func (r *Registry) Track(fd uintptr, c Class) {
	if fd <= 2 {
		return
	}
	r.mu.Lock()
	r.socks[fd] = c
	metrics.TrackedSockets.Set(float64(len(r.socks)))
	r.mu.Unlock()
}

// Drop removes a descriptor's entry. Callers must invoke this whenever the
// descriptor is closed, even if the close itself failed: the number may be
// handed out again regardless.
func (r *Registry) Drop(fd uintptr) {
	r.mu.Lock()
	delete(r.socks, fd)
	metrics.TrackedSockets.Set(float64(len(r.socks)))
	r.mu.Unlock()
}

// Lookup returns the descriptor's classification. Unknown descriptors are
// PassThrough.
func (r *Registry) Lookup(fd uintptr) Class {
	r.mu.RLock()
	c := r.socks[fd]
	r.mu.RUnlock()
	return c
}

// Len returns the number of tracked descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.socks)
	r.mu.RUnlock()
	return n
}

// FD extracts the underlying socket descriptor from connections backed by a
// real socket. Returns false for synthetic connections (pipes, in-memory
// transports), which the layer then leaves untouched.
func FD(conn any) (uintptr, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	if err := raw.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, false
	}
	return fd, true
}
