// Package pubsub implements a Google Cloud Pub/Sub completion publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/opensyndicate/syndicate/internal/metrics"
)

// Publisher sends JSON payloads to Pub/Sub topics. Topic handles are cached
// because each one maintains its own batching goroutines.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New verifies the default topic exists and returns a Publisher bound to the
// client.
func New(ctx context.Context, client *pubsub.Client, defaultTopic string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if defaultTopic == "" {
		return nil, fmt.Errorf("default topic is required")
	}

	topic := client.Topic(defaultTopic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		topic.Stop()
		return nil, fmt.Errorf("check pubsub topic %q: %w", defaultTopic, err)
	}
	if !exists {
		topic.Stop()
		return nil, fmt.Errorf("pubsub topic %q does not exist", defaultTopic)
	}

	return &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		topics:       map[string]*pubsub.Topic{defaultTopic: topic},
	}, nil
}

// Publish marshals the payload to JSON, publishes it, and waits for the
// server-assigned message ID. An empty topic falls back to the default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.handle(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		metrics.ObservePublish("error")
		return "", fmt.Errorf("publish message: %w", err)
	}
	metrics.ObservePublish("ok")
	return id, nil
}

// handle returns the cached topic handle, creating one on first use.
func (p *Publisher) handle(topic string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[topic]
	if !ok {
		t = p.client.Topic(topic)
		p.topics[topic] = t
	}
	return t
}

// Close stops all topic publishers and closes the underlying client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
