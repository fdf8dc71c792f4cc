package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConfig configures the redis stream transport.
type StreamConfig struct {
	Stream      string        // stream events are published to
	Group       string        // consumer group shared by workers
	Consumer    string        // this worker's consumer name
	DLQStream   string        // dead letter stream for exhausted events
	BatchSize   int64         // events read per call
	Block       time.Duration // how long a read blocks waiting for events
	MaxAttempts int           // attempts before an event is dead-lettered
}

const (
	fieldType    = "type"
	fieldCaseID  = "case_id"
	fieldAttempt = "attempt"
	fieldPayload = "payload"
	fieldError   = "last_error"
)

// RedisStreamDispatcher publishes events to a redis stream and delivers
// them to subscribers through a consumer group.
type RedisStreamDispatcher struct {
	registry
	client *redis.Client
	cfg    StreamConfig
	logger *zap.Logger
}

// NewRedisStreamDispatcher creates the consumer group if needed.
func NewRedisStreamDispatcher(ctx context.Context, client *redis.Client, cfg StreamConfig, logger *zap.Logger) (*RedisStreamDispatcher, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &RedisStreamDispatcher{client: client, cfg: cfg, logger: logger}

	// start from "0" so events published before the group existed are read
	if err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err(); err != nil &&
		!strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return d, nil
}

// Publish appends the event to the stream.
func (d *RedisStreamDispatcher) Publish(ctx context.Context, event Event) error {
	return d.add(ctx, d.cfg.Stream, event, "")
}

func (d *RedisStreamDispatcher) add(ctx context.Context, stream string, event Event, lastErr string) error {
	if event.Attempt <= 0 {
		event.Attempt = 1
	}
	values, err := streamValues(event)
	if err != nil {
		return err
	}
	if lastErr != "" {
		values[fieldError] = lastErr
	}
	if err := d.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd (stream=%s): %w", stream, err)
	}
	d.logger.Debug("event enqueued",
		zap.String("stream", stream),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Int("attempt", event.Attempt))
	return nil
}

// Run reads and handles events until ctx is cancelled.
func (d *RedisStreamDispatcher) Run(ctx context.Context) error {
	d.logger.Info("stream consumer started",
		zap.String("stream", d.cfg.Stream),
		zap.String("group", d.cfg.Group),
		zap.String("consumer", d.cfg.Consumer))
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.cfg.Group,
			Consumer: d.cfg.Consumer,
			Streams:  []string{d.cfg.Stream, ">"},
			Count:    d.cfg.BatchSize,
			Block:    d.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error("read stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				d.process(ctx, msg)
			}
		}
	}
}

func (d *RedisStreamDispatcher) process(ctx context.Context, msg redis.XMessage) {
	event, err := ParseStreamMessage(msg)
	if err != nil {
		d.logger.Error("drop malformed event", zap.String("message_id", msg.ID), zap.Error(err))
		d.ack(ctx, msg.ID)
		return
	}
	logger := d.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("case_id", event.CaseID),
		zap.Int("attempt", event.Attempt))

	handleErr := d.Handle(ctx, event)
	if handleErr == nil {
		d.ack(ctx, msg.ID)
		return
	}

	if event.Attempt >= d.cfg.MaxAttempts {
		if err := d.add(ctx, d.cfg.DLQStream, event, handleErr.Error()); err != nil {
			logger.Error("dead letter event", zap.Error(err))
			return
		}
		d.ack(ctx, msg.ID)
		logger.Error("event sent to dead letter stream", zap.String("dlq_stream", d.cfg.DLQStream), zap.Error(handleErr))
		return
	}

	retry := event
	retry.Attempt++
	if err := d.add(ctx, d.cfg.Stream, retry, handleErr.Error()); err != nil {
		logger.Error("requeue event", zap.Error(err))
		return
	}
	d.ack(ctx, msg.ID)
	logger.Warn("event requeued for retry", zap.Int("next_attempt", retry.Attempt), zap.Error(handleErr))
}

// Handle runs the subscribers of the event type. An event without
// subscribers fails so it is retried and then dead-lettered instead of acked.
func (d *RedisStreamDispatcher) Handle(ctx context.Context, event Event) error {
	if len(d.handlers(event.Type)) == 0 {
		return fmt.Errorf("%w for %s", ErrNoHandlers, event.Type)
	}
	return d.deliver(ctx, event)
}

func (d *RedisStreamDispatcher) ack(ctx context.Context, id string) {
	if err := d.client.XAck(ctx, d.cfg.Stream, d.cfg.Group, id).Err(); err != nil {
		d.logger.Error("xack", zap.String("message_id", id), zap.Error(err))
	}
}

func streamValues(event Event) (map[string]any, error) {
	payload, err := Encode(event)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		fieldType:    string(event.Type),
		fieldCaseID:  event.CaseID,
		fieldAttempt: event.Attempt,
		fieldPayload: payload,
	}, nil
}

// ParseStreamMessage rebuilds an event from a stream entry. The attempt
// field of the entry wins over the encoded one.
func ParseStreamMessage(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values[fieldPayload]
	if !ok {
		return Event{}, fmt.Errorf("missing %s", fieldPayload)
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return Event{}, fmt.Errorf("unexpected %s type %T", fieldPayload, raw)
	}
	event, err := Decode(data)
	if err != nil {
		return Event{}, err
	}
	if rawAttempt, ok := msg.Values[fieldAttempt]; ok {
		attempt, err := strconv.Atoi(fmt.Sprint(rawAttempt))
		if err != nil {
			return Event{}, fmt.Errorf("parsing %s: %w", fieldAttempt, err)
		}
		event.Attempt = attempt
	}
	if event.Attempt <= 0 {
		event.Attempt = 1
	}
	if event.Type == "" {
		return Event{}, errors.New("missing event type")
	}
	return event, nil
}
