package availability

import (
	"context"
	"fmt"
	"strings"

	"ms-seating/internal/lease"

	"github.com/go-redis/redis/v8"
)

const expiredPattern = "__keyevent@*__:expired"

// ExpiryListener heals a seat as soon as redis reports its lease key expired.
// Notifications are fire-and-forget, so the Sweeper still covers missed ones.
type ExpiryListener struct {
	Client     *redis.Client
	Reconciler *Reconciler
}

func NewExpiryListener(client *redis.Client, r *Reconciler) *ExpiryListener {
	return &ExpiryListener{Client: client, Reconciler: r}
}

// EnableNotifications turns on keyevent notifications for expired keys.
func (l *ExpiryListener) EnableNotifications(ctx context.Context) error {
	log := l.Reconciler.Logger
	val, err := l.Client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err == nil && len(val) == 2 {
		if current, ok := val[1].(string); ok && strings.Contains(current, "E") && (strings.Contains(current, "x") || strings.Contains(current, "A")) {
			log.Info("REDIS", fmt.Sprintf("Keyspace notifications already enabled: %q", current))
			return nil
		}
	}
	if err := l.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("enable keyspace notifications: %w", err)
	}
	log.Info("REDIS", "Keyspace notifications enabled for expired keys")
	return nil
}

// Run consumes expiry events until ctx is done.
func (l *ExpiryListener) Run(ctx context.Context) {
	log := l.Reconciler.Logger
	pubsub := l.Client.PSubscribe(ctx, expiredPattern)
	defer pubsub.Close()
	log.Info("REDIS", fmt.Sprintf("Subscribed to %s", expiredPattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *ExpiryListener) handle(ctx context.Context, key string) {
	eventID, seatID, ok := lease.ParseSeatKey(key)
	if !ok {
		return
	}
	log := l.Reconciler.Logger
	log.Debug("REDIS", fmt.Sprintf("Lease expired for seat %s of event %s", seatID, eventID))

	if _, err := l.Reconciler.HealSeats(ctx, eventID, []string{seatID}, "expiry"); err != nil {
		log.Error("RECONCILE", fmt.Sprintf("Failed to heal expired seat %s of event %s: %v", seatID, eventID, err))
	}
}
