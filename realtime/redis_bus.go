package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"twinlink/logger"
)

var ErrBusNotInitialized = errors.New("redis bus not initialized")

// RedisBus publishes events on one redis channel per user topic so every
// node's Hub sees them.
type RedisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisBus(ctx context.Context, log *logger.Logger, addr, prefix string) (*RedisBus, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if prefix == "" {
		prefix = "twinlink"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		log:    log.With("service", "RedisBus"),
		rdb:    rdb,
		prefix: prefix,
	}, nil
}

func (b *RedisBus) channel(ev Event) string {
	return b.prefix + ":" + ev.Topic()
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if b == nil || b.rdb == nil {
		return ErrBusNotInitialized
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(ev), raw).Err()
}

// StartForwarder pattern-subscribes to every user topic and hands decoded
// events to hub until ctx is cancelled.
func (b *RedisBus) StartForwarder(ctx context.Context, hub *Hub) error {
	if b == nil || b.rdb == nil {
		return ErrBusNotInitialized
	}
	if hub == nil {
		return fmt.Errorf("hub required")
	}

	sub := b.rdb.PSubscribe(ctx, b.prefix+":user:*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				b.dispatch(hub, m)
			}
		}
	}()
	return nil
}

func (b *RedisBus) dispatch(hub *Hub, m *goredis.Message) {
	var ev Event
	if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
		b.log.Warn("bad redis event payload", "channel", m.Channel, "error", err)
		return
	}
	if ev.UserID == "" {
		ev.UserID = strings.TrimPrefix(m.Channel, b.prefix+":user:")
	}
	hub.Deliver(ev)
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
