package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Notifier publishes object-created notifications onto the event fabric.
type Notifier interface {
	ObjectCreated(ctx context.Context, ev ObjectCreated) (string, error)
}

// PubSubNotifier is a Notifier backed by Google Pub/Sub.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  string
}

func NewPubSubNotifier(ctx context.Context, projectID, topic string) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubNotifier{client: client, topic: topic}, nil
}

// ObjectCreated sends the notification to the configured topic and returns
// the message ID.
func (n *PubSubNotifier) ObjectCreated(ctx context.Context, ev ObjectCreated) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification: %w", err)
	}
	t := n.client.Topic(n.topic)
	result := t.Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish notification to topic %s: %w", n.topic, err)
	}
	return id, nil
}

func (n *PubSubNotifier) Close() error {
	return n.client.Close()
}

// Subscriber pulls object-created notifications from a Pub/Sub subscription
// and feeds them to the router. A notification that fails to enqueue is
// nacked so the fabric redelivers it; malformed payloads are acked and
// dropped since redelivery cannot fix them.
type Subscriber struct {
	client       *pubsub.Client
	subscription string
	router       *Router
	logger       zerolog.Logger
}

func NewSubscriber(ctx context.Context, projectID, subscription string, router *Router, logger zerolog.Logger) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &Subscriber{
		client:       client,
		subscription: subscription,
		router:       router,
		logger:       logger.With().Str("component", "event-subscriber").Logger(),
	}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscription(s.subscription)
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var ev ObjectCreated
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			s.logger.Error().Err(err).Str("message_id", m.ID).
				Msg("Failed to unmarshal storage notification, dropping")
			m.Ack()
			return
		}
		if _, err := s.router.HandleObjectCreated(ctx, ev); err != nil {
			s.logger.Error().Err(err).Str("message_id", m.ID).
				Msg("Failed to route storage notification, will be redelivered")
			m.Nack()
			return
		}
		m.Ack()
	})
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}
