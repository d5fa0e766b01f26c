// Package admin exposes the agent's control surface: live status, a manual
// toggle override for test orchestration, and Prometheus metrics. This is an
// agent-only interface; the interception layer itself never listens anywhere.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mhammerly/preload-latency/internal/config"
	"github.com/mhammerly/preload-latency/internal/registry"
	"github.com/mhammerly/preload-latency/internal/resolve"
	"github.com/mhammerly/preload-latency/internal/toggle"
)

// Status is the JSON view of the layer's current state.
type Status struct {
	Enabled          bool     `json:"enabled"`
	DelayMs          int64    `json:"delay_ms"`
	Hosts            []string `json:"hosts"`
	TogglePeriodSecs int64    `json:"toggle_period_secs,omitempty"`
	TrackedSockets   int      `json:"tracked_sockets"`
	MatchedAddrs     int      `json:"matched_addrs"`
}

type Server struct {
	cfg   *config.Config
	reg   *registry.Registry
	table *resolve.Table
	tog   *toggle.State
	log   *slog.Logger
}

func New(cfg *config.Config, reg *registry.Registry, table *resolve.Table, tog *toggle.State, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, reg: reg, table: table, tog: tog, log: log}
}

// Routes returns the admin handler tree, auth-wrapped when a token is
// configured.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/enable", s.setHandler(true))
	mux.HandleFunc("/disable", s.setHandler(false))
	mux.Handle("/metrics", promhttp.Handler())
	return s.auth(mux)
}

// statusHandler handles GET /status.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := Status{
		Enabled:          s.tog.Enabled(),
		DelayMs:          s.cfg.Delay.Milliseconds(),
		Hosts:            s.cfg.HostList(),
		TogglePeriodSecs: int64(s.cfg.TogglePeriod.Seconds()),
		TrackedSockets:   s.reg.Len(),
		MatchedAddrs:     s.table.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// setHandler handles POST /enable and POST /disable.
func (s *Server) setHandler(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.tog.Set(enabled)
		s.log.Info("interception override applied", "enabled", enabled)

		msg := "Interception disabled"
		if enabled {
			msg = "Interception enabled"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": msg})
	}
}

// auth rejects requests without the configured token. No configured token
// means the surface is open (it binds to loopback by default).
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" && r.Header.Get("X-Admin-Token") != s.cfg.AdminToken {
			http.Error(w, "Invalid admin token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
