package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultEventStream = "agentspawn:events"

// RedisSink appends run events to a Redis stream.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisSink connects to redisURL and verifies the connection.
func NewRedisSink(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = defaultEventStream
	}
	return &RedisSink{rdb: rdb, stream: stream, maxLen: 10000, logger: logger}, nil
}

// Publish appends ev to the stream, trimming it to roughly maxLen entries.
func (r *RedisSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", r.stream, err)
	}
	return nil
}

// Recent returns up to n events, newest first. A non-empty taskID filters
// to one run.
func (r *RedisSink) Recent(ctx context.Context, n int64, taskID string) ([]Event, error) {
	msgs, err := r.rdb.XRevRangeN(ctx, r.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.stream, err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev, ok := decodeEvent(m)
		if !ok || (taskID != "" && ev.TaskID != taskID) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe streams events published after the call. Cancel ctx to stop.
func (r *RedisSink) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		lastID := "$"
		for ctx.Err() == nil {
			results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{r.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					r.logger.Debug("event stream read failed", zap.Error(err))
				}
				continue
			}
			for _, res := range results {
				for _, m := range res.Messages {
					lastID = m.ID
					ev, ok := decodeEvent(m)
					if !ok {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Close shuts down the Redis connection.
func (r *RedisSink) Close() error {
	return r.rdb.Close()
}

func decodeEvent(m redis.XMessage) (Event, bool) {
	data, ok := m.Values["data"].(string)
	if !ok {
		return Event{}, false
	}
	var ev Event
	if json.Unmarshal([]byte(data), &ev) != nil {
		return Event{}, false
	}
	return ev, true
}
