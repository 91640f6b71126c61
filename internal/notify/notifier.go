package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "collab:rooms"

type EventType string

const (
	RoomCreated EventType = "room.created"
	RoomClosed  EventType = "room.closed"
)

// RoomEvent announces a room lifecycle change to outside consumers such as
// the export pipeline. It is a notification, never a restore source.
type RoomEvent struct {
	Type         EventType       `json:"type"`
	RoomID       string          `json:"roomId"`
	Participants int             `json:"participants"`
	Messages     int             `json:"messages"`
	Document     json.RawMessage `json:"document,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type Notifier interface {
	Publish(ctx context.Context, ev RoomEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, RoomEvent) error { return nil }
func (Nop) Close() error                             { return nil }

// RedisNotifier publishes events as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisNotifier connects to redis and verifies connectivity
func NewRedisNotifier(ctx context.Context, addr, channel string, log *zap.Logger) (*RedisNotifier, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisNotifierWithClient(rdb, channel, log), nil
}

func NewRedisNotifierWithClient(rdb *redis.Client, channel string, log *zap.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisNotifier{rdb: rdb, channel: channel, log: log}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev RoomEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	n.log.Debug("room event published",
		zap.String("type", string(ev.Type)),
		zap.String("room_id", ev.RoomID))
	return nil
}

func (n *RedisNotifier) Channel() string { return n.channel }

func (n *RedisNotifier) Close() error { return n.rdb.Close() }
