package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/campusstore-backend/pkg/outbox/registry"
)

// message is the sink-neutral form of one outbox row. Key is the aggregate
// id; kafka partitions by it.
type message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

type sink interface {
	Name() string
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg message) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// pubsubSink keeps one publisher per topic for the life of the process.
type pubsubSink struct {
	client  pubSubClient
	factory publisherFactory

	mu         sync.Mutex
	publishers map[string]publisher
}

func newPubSubSink(client pubSubClient, factory publisherFactory) *pubsubSink {
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPubPublisher(client.Publisher(topic))
		}
	}
	return &pubsubSink{client: client, factory: factory, publishers: map[string]publisher{}}
}

func (s *pubsubSink) Name() string { return "pubsub" }

func (s *pubsubSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *pubsubSink) Publish(ctx context.Context, topic string, msg message) error {
	pub := s.publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ctx)
	return err
}

func (s *pubsubSink) publisher(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.factory(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

// Stop flushes and stops every cached publisher.
func (s *pubsubSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		if stopper, ok := pub.(interface{ Stop() }); ok {
			stopper.Stop()
		}
		delete(s.publishers, topic)
	}
}

func newGCPPubPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}

type kafkaProducer interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type kafkaSink struct {
	producer kafkaProducer
}

func (s *kafkaSink) Name() string { return "kafka" }

func (s *kafkaSink) Ping(ctx context.Context) error {
	return s.producer.Ping(ctx)
}

func (s *kafkaSink) Publish(ctx context.Context, topic string, msg message) error {
	if topic == "" {
		return registry.NewNonRetryableError(errors.New("kafka topic not configured"))
	}
	return s.producer.Publish(ctx, topic, []byte(msg.Key), msg.Data, msg.Attributes)
}
