// Package toggle owns the process-global interception switch. The switch
// starts enabled; with a configured period a single background goroutine
// flips it on that cadence for the life of the process.
package toggle

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// State is the shared enabled/disabled flag read by every intercepted call.
type State struct {
	enabled atomic.Bool
	log     *slog.Logger
}

func New(log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	s := &State{log: log}
	s.enabled.Store(true)
	return s
}

// Enabled reports whether interception is currently on.
func (s *State) Enabled() bool { return s.enabled.Load() }

// Set forces the switch to a value. Used by the admin override and by
// followers applying fleet transitions.
func (s *State) Set(v bool) { s.enabled.Store(v) }

func (s *State) flip() bool {
	for {
		old := s.enabled.Load()
		if s.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Start launches the periodic flipper. A period of zero or less means the
// switch never transitions. onFlip, if non-nil, is invoked after each flip
// with the new value; it runs on the timer goroutine and must not block for
// long. The flipper runs until process exit.
func (s *State) Start(period time.Duration, onFlip func(enabled bool)) {
	if period <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for range ticker.C {
			v := s.flip()
			s.log.Info("interception toggled", "enabled", v)
			if onFlip != nil {
				onFlip(v)
			}
		}
	}()
}
