// Package events publishes lab lifecycle events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Event types.
const (
	GroupCreated    = "group.created"
	GroupEdited     = "group.edited"
	GroupDeleted    = "group.deleted"
	ReportPublished = "report.published"
	ReportAugmented = "report.augmented"
	ReportDeleted   = "report.deleted"
)

// Event is one lifecycle notification. Attributes carry identifiers and
// statuses only, never patient demographics.
type Event struct {
	Type       string            `json:"type"`
	Actor      string            `json:"actor,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// RedisPublisher appends events to a stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisPublisher publishes to stream, trimming it to roughly maxLen
// entries (0 disables trimming).
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	values, err := streamValues(evt)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Ping checks connectivity; used by the health endpoint.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func streamValues(evt Event) (map[string]interface{}, error) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]interface{}{
		"type":      evt.Type,
		"data":      string(payload),
		"timestamp": evt.OccurredAt.Unix(),
	}, nil
}
