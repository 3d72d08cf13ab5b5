package notify

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSub publishes each notice as one message on a topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
}

// NewPubSub dials Pub/Sub with Application Default Credentials and checks the
// topic exists.
func NewPubSub(ctx context.Context, cfg PubSubConfig) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	dest, err := newPubSub(ctx, client, cfg.Topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	dest.owned = true
	return dest, nil
}

// NewPubSubWithClient wraps an existing client; Close leaves the client open.
func NewPubSubWithClient(ctx context.Context, client *pubsub.Client, topic string) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return newPubSub(ctx, client, topic)
}

func newPubSub(ctx context.Context, client *pubsub.Client, topicID string) (*PubSub, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &PubSub{client: client, topic: topic}, nil
}

// Name implements Destination.
func (*PubSub) Name() string { return "pubsub" }

// Send publishes message and waits for the server ack.
func (p *PubSub) Send(ctx context.Context, message string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: []byte(message),
		Attributes: map[string]string{
			"kind":    "notice",
			"sent_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Close flushes pending publishes.
func (p *PubSub) Close() error {
	p.topic.Stop()
	if !p.owned {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
