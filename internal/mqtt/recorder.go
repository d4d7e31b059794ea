package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Topic suffixes under the base topic.
const (
	TopicVision = "vision"
	TopicMotion = "motion"
	TopicAudio  = "audio"
	TopicEvents = "events"
)

type motionPayload struct {
	status.MotionStatus
	Timestamp time.Time `json:"timestamp"`
}

// Recorder publishes observations as JSON to <topic>/<kind>.
type Recorder struct {
	client Client
	topic  string
	clock  func() time.Time
}

// NewRecorder returns a recorder publishing under topic.
func NewRecorder(client Client, topic string) *Recorder {
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Recorder{client: client, topic: topic, clock: time.Now}
}

// Topic returns the full topic for suffix.
func (r *Recorder) Topic(suffix string) string {
	return r.topic + "/" + suffix
}

// RecordVision implements status.Recorder.
func (r *Recorder) RecordVision(ctx context.Context, baby status.BabyStatus) error {
	return r.publish(ctx, TopicVision, baby)
}

// RecordMotion implements status.Recorder.
func (r *Recorder) RecordMotion(ctx context.Context, motion status.MotionStatus) error {
	return r.publish(ctx, TopicMotion, motionPayload{MotionStatus: motion, Timestamp: r.clock()})
}

// RecordAudio implements status.Recorder.
func (r *Recorder) RecordAudio(ctx context.Context, audio status.AudioStatus) error {
	return r.publish(ctx, TopicAudio, audio)
}

// RecordEvent implements status.Recorder.
func (r *Recorder) RecordEvent(ctx context.Context, event status.Event) error {
	return r.publish(ctx, TopicEvents, event)
}

func (r *Recorder) publish(ctx context.Context, suffix string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal").
			Context("topic", suffix).
			Build()
	}
	return r.client.Publish(ctx, r.Topic(suffix), payload)
}

// Close disconnects the underlying client.
func (r *Recorder) Close() error {
	r.client.Disconnect()
	return nil
}

var _ status.Recorder = (*Recorder)(nil)
