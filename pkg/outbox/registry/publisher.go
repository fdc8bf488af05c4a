// Package registry decides where each outbox row goes and decodes its
// payload before the publisher hands it to a sink.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox/payloads"
)

// ErrUnroutable marks rows whose event type or aggregate has no descriptor.
var ErrUnroutable = errors.New("outbox event unroutable")

// Topics names the destinations on whichever sink is configured.
type Topics struct {
	Orders    string
	Inventory string
}

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError tells the publisher to dead-letter the row instead of
// retrying it.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError { return NonRetryableError{Err: err} }

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      event,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

func NewEventRegistry(topics Topics) (*EventRegistry, error) {
	routes := []EventDescriptor{
		route[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, enums.AggregateOrder, topics.Orders),
		route[payloads.StockAlertRaisedEvent](enums.EventStockAlertRaised, enums.AggregateStockLedger, topics.Inventory),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	for _, desc := range routes {
		if desc.Topic == "" {
			return nil, fmt.Errorf("no topic configured for %s events", desc.AggregateType)
		}
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the typed
// payload. Every error it returns is a NonRetryableError; routing failures
// also wrap ErrUnroutable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	reject := func(format string, args ...any) (*ResolvedEvent, error) {
		return nil, NewNonRetryableError(fmt.Errorf(format, args...))
	}

	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return reject("%w: no route for event type %q", ErrUnroutable, event.EventType)
	case desc.AggregateType != event.AggregateType:
		return reject("%w: %s events belong to %s, row says %s", ErrUnroutable, event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return reject("%s row has no aggregate id", event.EventType)
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return reject("%s: %w", event.EventType, err)
	}
	payload := desc.PayloadFactory()
	if err := envelope.DecodeData(payload); err != nil {
		return reject("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
