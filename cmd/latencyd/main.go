package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/mhammerly/preload-latency/internal/admin"
	"github.com/mhammerly/preload-latency/internal/config"
	"github.com/mhammerly/preload-latency/internal/intercept"
	"github.com/mhammerly/preload-latency/internal/observability"
	"github.com/mhammerly/preload-latency/internal/proxy"
	"github.com/mhammerly/preload-latency/internal/registry"
	"github.com/mhammerly/preload-latency/internal/resolve"
	"github.com/mhammerly/preload-latency/internal/toggle"
)

func main() {
	cfg := config.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	shutdown, err := observability.InitTracer("latencyd")
	if err != nil {
		log.Warn("tracing disabled", "err", err)
	} else {
		defer shutdown()
	}

	// ---- Match state ----
	table := resolve.NewTable()
	resolver := resolve.NewResolver(cfg, table, nil, log)
	resolver.Preresolve(context.Background())

	reg := registry.New()

	// ---- Toggle ----
	tog := toggle.New(log)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
	}
	switch {
	case cfg.TogglePeriod > 0 && rdb != nil:
		// This node runs the timer and announces flips to the fleet.
		tog.Start(cfg.TogglePeriod, toggle.Publisher(rdb, log))
	case cfg.TogglePeriod > 0:
		tog.Start(cfg.TogglePeriod, nil)
	case rdb != nil:
		// No local timer: follow whichever node has one.
		tog.Follow(context.Background(), rdb)
	}

	// ---- Forwarders ----
	dialer := intercept.NewDialer(cfg, table, reg, tog, log)
	ctx := context.Background()
	for _, f := range cfg.Forwards {
		fw := proxy.New(f, dialer, log)
		go func() {
			if err := fw.Run(ctx); err != nil {
				log.Error("forwarder exited", "err", err)
			}
		}()
	}

	// ---- Admin ----
	adm := admin.New(cfg, reg, table, tog, log)

	fmt.Println("latencyd admin on " + cfg.AdminAddr)
	if err := http.ListenAndServe(cfg.AdminAddr, adm.Routes()); err != nil {
		log.Error("admin server failed", "err", err)
		os.Exit(1)
	}
}
