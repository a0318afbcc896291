// Package events delivers catalog domain events to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"procgrid/internal/catalog"
)

const (
	// DefaultStream is the Valkey stream catalog events are appended to.
	DefaultStream = "procgrid:catalog:events"

	// DefaultMaxLen caps the stream length. Trimming is approximate.
	DefaultMaxLen = 100000
)

// StreamPublisher appends events to a Valkey stream with XADD.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher for stream. Empty stream and
// maxLen <= 0 select the defaults.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends ev to the stream. The event data is carried as JSON in
// the payload field; the other fields allow filtering without decoding it.
func (p *StreamPublisher) Publish(ctx context.Context, ev catalog.Event) error {
	values, err := streamValues(ev)
	if err != nil {
		return err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	slog.Debug("category event published", "type", ev.Type, "category_id", ev.CategoryID, "stream_id", id)
	return nil
}

func streamValues(ev catalog.Event) (map[string]any, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}
	return map[string]any{
		"type":        string(ev.Type),
		"category_id": ev.CategoryID.String(),
		"actor":       ev.Actor,
		"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		"payload":     string(payload),
	}, nil
}

// LogPublisher writes events to the structured log. It is the sink when no
// stream is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher that logs through logger, or
// slog.Default() when logger is nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs ev at info level. It never fails.
func (p *LogPublisher) Publish(ctx context.Context, ev catalog.Event) error {
	p.logger.InfoContext(ctx, "category event",
		"type", ev.Type,
		"category_id", ev.CategoryID,
		"actor", ev.Actor,
		"occurred_at", ev.OccurredAt,
		"data", ev.Data,
	)
	return nil
}

var (
	_ catalog.Publisher = (*StreamPublisher)(nil)
	_ catalog.Publisher = (*LogPublisher)(nil)
)
