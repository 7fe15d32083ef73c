package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/hk-epaper-ingest/internal/progress"
)

// messagePublisher narrows *pubsub.Topic to what the sink needs.
type messagePublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicPublisher struct {
	topic *pubsub.Topic
}

func (t topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.topic.Publish(ctx, msg)
}

func (t topicPublisher) Stop() {
	t.topic.Stop()
}

// PubSubSink publishes DATE_DONE and run lifecycle events to a Pub/Sub topic so downstream
// consumers can pick up freshly ingested issues. Page-level events stay local.
type PubSubSink struct {
	publisher messagePublisher
}

// NewPubSubSink wraps an existing topic handle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{publisher: topicPublisher{topic: topic}}
}

type pubsubPayload struct {
	RunID string `json:"run_id"`
	progress.Event
}

// Consume publishes each relevant event and waits for the server ack.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if !publishable(evt.Stage) {
			continue
		}
		data, err := json.Marshal(pubsubPayload{RunID: evt.RunUUID().String(), Event: evt})
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		msg := &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"stage":  string(evt.Stage),
				"run_id": evt.RunUUID().String(),
			},
		}
		if evt.Publisher != "" {
			msg.Attributes["publisher"] = evt.Publisher
		}
		if !evt.Date.IsZero() {
			msg.Attributes["date"] = evt.Date.Format("2006-01-02")
		}
		if evt.Outcome != "" {
			msg.Attributes["outcome"] = evt.Outcome
			msg.Attributes["stored"] = strconv.Itoa(evt.Stored)
		}
		if _, err := s.publisher.Publish(ctx, msg).Get(ctx); err != nil {
			return fmt.Errorf("publish progress event: %w", err)
		}
	}
	return nil
}

// Close flushes pending messages and stops the topic's background goroutines.
func (s *PubSubSink) Close(context.Context) error {
	s.publisher.Stop()
	return nil
}

func publishable(stage progress.Stage) bool {
	switch stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError, progress.StageDateDone:
		return true
	default:
		return false
	}
}
