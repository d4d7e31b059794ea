// Package events publishes pipeline observations to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Defaults used when settings are zero.
const (
	DefaultStream = "cribwatch:events"
	DefaultMaxLen = 10000
)

// Stream entry fields.
const (
	FieldKind      = "kind"
	FieldData      = "data"
	FieldTimestamp = "timestamp"
)

// Record kinds written to the kind field.
const (
	KindVision = "vision"
	KindMotion = "motion"
	KindAudio  = "audio"
	KindEvent  = "event"
)

// StreamRecorder appends every observation to one capped Redis stream as
// {kind, data, timestamp}. data holds the JSON encoded record.
type StreamRecorder struct {
	client *redis.Client
	stream string
	maxLen int64
	clock  func() time.Time
	log    logger.Logger
}

// NewStreamRecorder wraps an existing client.
func NewStreamRecorder(client *redis.Client, stream string, maxLen int64) *StreamRecorder {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &StreamRecorder{
		client: client,
		stream: stream,
		maxLen: maxLen,
		clock:  time.Now,
		log:    GetLogger().With(logger.String("stream", stream)),
	}
}

// Connect dials Redis from settings and verifies the connection.
func Connect(ctx context.Context, s *conf.RedisSettings) (*StreamRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     s.Addr,
		Password: s.Password,
		DB:       s.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New(err).
			Component("events").
			Category(errors.CategoryEvents).
			Context("operation", "ping").
			Context("addr", s.Addr).
			Build()
	}
	r := NewStreamRecorder(client, s.Stream, s.MaxLen)
	r.log.Info("connected to redis", logger.String("addr", s.Addr))
	return r, nil
}

// Stream returns the stream key.
func (r *StreamRecorder) Stream() string {
	return r.stream
}

// RecordVision implements status.Recorder.
func (r *StreamRecorder) RecordVision(ctx context.Context, baby status.BabyStatus) error {
	return r.add(ctx, KindVision, baby)
}

// RecordMotion implements status.Recorder.
func (r *StreamRecorder) RecordMotion(ctx context.Context, motion status.MotionStatus) error {
	return r.add(ctx, KindMotion, motion)
}

// RecordAudio implements status.Recorder.
func (r *StreamRecorder) RecordAudio(ctx context.Context, audio status.AudioStatus) error {
	return r.add(ctx, KindAudio, audio)
}

// RecordEvent implements status.Recorder.
func (r *StreamRecorder) RecordEvent(ctx context.Context, event status.Event) error {
	return r.add(ctx, KindEvent, event)
}

func (r *StreamRecorder) add(ctx context.Context, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("events").
			Category(errors.CategoryEvents).
			Context("operation", "marshal").
			Context("kind", kind).
			Build()
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			FieldKind:      kind,
			FieldData:      string(data),
			FieldTimestamp: r.clock().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return errors.New(err).
			Component("events").
			Category(errors.CategoryEvents).
			Context("operation", "xadd").
			Context("kind", kind).
			Build()
	}
	return nil
}

// Close closes the Redis client.
func (r *StreamRecorder) Close() error {
	return r.client.Close()
}

var _ status.Recorder = (*StreamRecorder)(nil)
