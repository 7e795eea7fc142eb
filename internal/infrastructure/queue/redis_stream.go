package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/musaver/admintaxmahir-sub002/internal/application/importing"
	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

const payloadField = "payload"

type RedisStreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds how long Receive waits for a new entry.
	Block time.Duration
	// ClaimIdle is how long an entry stays unacknowledged before another
	// consumer may take it over.
	ClaimIdle time.Duration
}

// RedisStream is the import event bus: producers XADD ImportRequested
// events, workers consume them through a consumer group.
type RedisStream struct {
	client redis.UniversalClient
	cfg    RedisStreamConfig
}

func NewRedisStream(client redis.UniversalClient, cfg RedisStreamConfig) *RedisStream {
	if cfg.Stream == "" {
		cfg.Stream = "imports:requested"
	}
	if cfg.Group == "" {
		cfg.Group = "import-workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 5 * time.Minute
	}
	return &RedisStream{client: client, cfg: cfg}
}

// EnsureGroup creates the stream and consumer group if they are missing.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis xgroup create: %w", err)
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, evt importjob.ImportRequested) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode import event: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

// Receive prefers reclaiming a stalled delivery over reading a new one.
func (s *RedisStream) Receive(ctx context.Context) (*importing.Delivery, error) {
	d, err := s.reclaim(ctx)
	if err != nil || d != nil {
		return d, err
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    1,
		Block:    s.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xreadgroup: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return toDelivery(streams[0].Messages[0], 1), nil
}

func (s *RedisStream) reclaim(ctx context.Context) (*importing.Delivery, error) {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.cfg.Stream,
		Group:  s.cfg.Group,
		Idle:   s.cfg.ClaimIdle,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xpending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	entry := pending[0]
	claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.ClaimIdle,
		Messages: []string{entry.ID},
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xclaim: %w", err)
	}
	if len(claimed) == 0 {
		// Another consumer claimed it first, or it was trimmed.
		return nil, nil
	}

	return toDelivery(claimed[0], entry.RetryCount+1), nil
}

// Extend resets the idle time of a delivery this consumer is still working
// on, so reclaim on other consumers leaves it alone. JUSTID keeps the
// delivery count unchanged.
func (s *RedisStream) Extend(ctx context.Context, deliveryID string) error {
	err := s.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  0,
		Messages: []string{deliveryID},
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis xclaim justid: %w", err)
	}
	return nil
}

func (s *RedisStream) Ack(ctx context.Context, deliveryID string) error {
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, deliveryID).Err(); err != nil {
		return fmt.Errorf("redis xack: %w", err)
	}
	return nil
}

// toDelivery decodes msg. An undecodable payload yields a zero event, which
// fails validation downstream and is acknowledged there.
func toDelivery(msg redis.XMessage, attempt int64) *importing.Delivery {
	d := &importing.Delivery{ID: msg.ID, Attempt: attempt}
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return d
	}
	var evt importjob.ImportRequested
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return d
	}
	d.Event = evt
	return d
}
