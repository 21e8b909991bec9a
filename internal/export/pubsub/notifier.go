// Package pubsub publishes aggregate completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/aggregator"
)

// Notifier wraps a Pub/Sub topic.
type Notifier struct {
	topic *pubsub.Topic
}

// New creates a Notifier for the provided topic.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify marshals the notice to JSON and publishes it, waiting for the
// server to acknowledge it.
func (n *Notifier) Notify(ctx context.Context, notice aggregator.Notice) error {
	if n == nil || n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": notice.RunID,
			"event":  "census.aggregate.completed",
		},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Stop flushes pending messages and stops the topic's publish goroutines.
func (n *Notifier) Stop() {
	if n == nil || n.topic == nil {
		return
	}
	n.topic.Stop()
}
