package toggle

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel carries toggle transitions between agents so a fleet flips in
// lockstep: the node running the timer publishes, everyone else follows.
const Channel = "preload-latency:toggle"

// Publisher returns an onFlip callback that announces each transition to the
// fleet. Publish failures are logged and dropped; the local toggle is
// authoritative for this process either way.
func Publisher(client *redis.Client, log *slog.Logger) func(enabled bool) {
	if log == nil {
		log = slog.Default()
	}
	return func(enabled bool) {
		payload := "0"
		if enabled {
			payload = "1"
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := client.Publish(ctx, Channel, payload).Err(); err != nil {
			log.Warn("failed to publish toggle transition", "err", err)
		}
	}
}

// Follow subscribes to fleet transitions and applies them to the local
// switch instead of running a timer. Returns immediately; the subscription
// loop runs until ctx is cancelled. Subscription errors leave the switch in
// its last known state, which degrades to plain always-enabled behavior.
func (s *State) Follow(ctx context.Context, client *redis.Client) {
	sub := client.Subscribe(ctx, Channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					s.log.Warn("toggle subscription closed")
					return
				}
				enabled := msg.Payload == "1"
				s.log.Info("applying fleet toggle transition", "enabled", enabled)
				s.Set(enabled)
			}
		}
	}()
}
