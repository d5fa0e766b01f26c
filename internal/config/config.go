// Package config reads the latency layer's configuration from the process
// environment exactly once and exposes it as an immutable snapshot. Malformed
// values fall back to defaults; nothing in here may panic, because this code
// runs inside processes it does not own.
package config

import (
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Environment variables consumed at startup.
const (
	EnvHosts      = "PRELOAD_LATENCY_HOSTS"       // colon-separated allow-list; unset = intercept all
	EnvResolve    = "PRELOAD_LATENCY_RESOLVE"     // set = pre-resolve allow-list hosts at startup
	EnvMillis     = "PRELOAD_LATENCY_MILLIS"      // delay per intercepted transfer call
	EnvToggleSecs = "PRELOAD_LATENCY_TOGGLE_SECS" // cadence for enable/disable flips; unset = always on
	EnvForward    = "PRELOAD_LATENCY_FORWARD"     // comma-separated listen=upstream TCP mappings
	EnvAdmin      = "PRELOAD_LATENCY_ADMIN"       // admin/metrics listen address
	EnvAdminToken = "PRELOAD_LATENCY_ADMIN_TOKEN" // optional bearer token for the admin API
	EnvRedis      = "PRELOAD_LATENCY_REDIS"       // optional redis address for fleet toggle lockstep
	EnvLog        = "PRELOAD_LATENCY_LOG"         // slog level: debug, info, warn, error
)

const (
	DefaultDelay     = 200 * time.Millisecond
	DefaultAdminAddr = "127.0.0.1:7077"
)

// Forward maps a local listen address to the upstream it fronts.
type Forward struct {
	Listen   string
	Upstream string
}

// Config is the immutable configuration snapshot shared by every component.
type Config struct {
	// Hosts to intercept. Empty means intercept every host.
	Hosts map[string]struct{}

	// ResolveEager pre-resolves Hosts at startup for targets that connect by
	// IP without a lookup the layer can observe.
	ResolveEager bool

	// Delay injected before each intercepted transfer call.
	Delay time.Duration

	// TogglePeriod alternates interception on/off on this cadence.
	// Zero means interception stays enabled.
	TogglePeriod time.Duration

	Forwards   []Forward
	AdminAddr  string
	AdminToken string
	RedisAddr  string
	LogLevel   slog.Level
}

// MatchAll reports whether every host should be intercepted.
func (c *Config) MatchAll() bool { return len(c.Hosts) == 0 }

// MatchHost reports whether the given hostname is in the allow-list.
// An empty allow-list matches everything.
func (c *Config) MatchHost(host string) bool {
	if len(c.Hosts) == 0 {
		return true
	}
	_, ok := c.Hosts[host]
	return ok
}

// HostList returns the allow-list as a sorted slice.
func (c *Config) HostList() []string {
	out := make([]string, 0, len(c.Hosts))
	for h := range c.Hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// HostSet builds an allow-list set from hostnames, skipping empty entries.
func HostSet(hosts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

var (
	loadOnce sync.Once
	loaded   *Config
)

// Load reads the environment on first call and returns the same snapshot on
// every call thereafter.
func Load() *Config {
	loadOnce.Do(func() {
		loaded = parse(os.Getenv)
	})
	return loaded
}

// parse builds a Config from the given environment accessor. Split out from
// Load so tests can feed a fake environment.
func parse(getenv func(string) string) *Config {
	cfg := &Config{
		Hosts:     map[string]struct{}{},
		Delay:     DefaultDelay,
		AdminAddr: DefaultAdminAddr,
		LogLevel:  slog.LevelWarn,
	}

	if raw := getenv(EnvHosts); raw != "" {
		cfg.Hosts = HostSet(strings.Split(raw, ":")...)
	}

	cfg.ResolveEager = getenv(EnvResolve) != ""

	if raw := getenv(EnvMillis); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			cfg.Delay = time.Duration(ms) * time.Millisecond
		}
	}

	if raw := getenv(EnvToggleSecs); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.TogglePeriod = time.Duration(secs) * time.Second
		}
	}

	for _, entry := range strings.Split(getenv(EnvForward), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		listen, upstream, ok := strings.Cut(entry, "=")
		if !ok || listen == "" || upstream == "" {
			continue
		}
		cfg.Forwards = append(cfg.Forwards, Forward{Listen: listen, Upstream: upstream})
	}

	if addr := getenv(EnvAdmin); addr != "" {
		cfg.AdminAddr = addr
	}
	cfg.AdminToken = getenv(EnvAdminToken)
	cfg.RedisAddr = getenv(EnvRedis)

	switch strings.ToLower(getenv(EnvLog)) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "error":
		cfg.LogLevel = slog.LevelError
	}

	return cfg
}
