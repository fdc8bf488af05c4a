package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// deliveryGuard remembers events a sink accepted whose outbox row may not
// have been marked yet.
type deliveryGuard interface {
	Delivered(ctx context.Context, sink string, eventID uuid.UUID) (bool, error)
	Claim(ctx context.Context, sink string, eventID uuid.UUID) (bool, error)
}

type publishRecorder interface {
	IncOutboxPublish(sink, result string)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Sink          sink
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Guard         deliveryGuard
	Metrics       publishRecorder
}

// Service drains outbox_events into the configured sink. Guard and Metrics
// are optional.
type Service struct {
	logg     *logger.Logger
	db       dbClient
	repo     outboxRepository
	sink     sink
	registry registryResolver
	dlq      dlqRepository
	guard    deliveryGuard
	metrics  publishRecorder

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"event sink", params.Sink == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
		{"dlq repository", params.DLQRepository == nil},
	}
	for _, dep := range required {
		if dep.missing {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	tuning := params.Config.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		sink:         params.Sink,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		guard:        params.Guard,
		metrics:      params.Metrics,
		batchSize:    positiveOr(tuning.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(tuning.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(tuning.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// the next one; an empty batch waits one poll interval; a failed batch backs
// off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{s.sink.Name(), s.sink.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, dep.name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	var backoff time.Duration
	for ctx.Err() == nil {
		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			wait = withJitter(backoff)
		case processed:
			backoff = 0
			continue
		default:
			backoff = 0
			wait = withJitter(s.pollInterval)
		}
		if err := s.sleep(ctx, wait); err != nil {
			break
		}
	}
	s.logg.Info(ctx, "outbox publisher stopping")
	return ctx.Err()
}

// processBatch locks a page of unpublished rows and dispatches each one. A
// failure on one row is recorded on that row; only bookkeeping errors abort
// the batch.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.dispatch(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// dispatch settles one row: published, retried later, or dead-lettered.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	rowCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"sink":           s.sink.Name(),
	})

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		reason := enums.OutboxDLQReasonNonRetryable
		if errors.Is(err, registry.ErrUnroutable) {
			reason = enums.OutboxDLQReasonUnroutable
		}
		return s.deadLetter(rowCtx, tx, event, reason, err)
	}
	rowCtx = s.logg.WithFields(rowCtx, map[string]any{
		"topic":    resolved.Descriptor.Topic,
		"event_id": resolved.Envelope.EventID,
	})

	sendErr := s.deliver(rowCtx, event, resolved)
	var permanent registry.NonRetryableError
	attempt := event.AttemptCount + 1
	switch {
	case sendErr == nil:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		s.logg.Info(rowCtx, "outbox event published")
		return nil
	case errors.As(sendErr, &permanent):
		return s.deadLetter(rowCtx, tx, event, enums.OutboxDLQReasonNonRetryable, sendErr)
	case attempt >= s.maxAttempts:
		return s.deadLetter(rowCtx, tx, event, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", attempt, sendErr))
	}

	retryCtx := s.logg.WithFields(rowCtx, map[string]any{"attempt": attempt, "error": sendErr.Error()})
	s.logg.Warn(retryCtx, "outbox publish failed, will retry")
	s.record("failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, sendErr); err != nil {
		return fmt.Errorf("mark %s failed: %w", event.ID, err)
	}
	return nil
}

// deadLetter copies the row into outbox_dlq and closes it so it is never
// fetched again.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()}), "outbox event dead-lettered")
	s.record("dead_lettered")

	why := cause.Error()
	if err := s.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &why,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("close %s: %w", event.ID, err)
	}
	return nil
}

// deliver sends one event unless the guard says the sink already has it from
// a batch whose commit was lost.
func (s *Service) deliver(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	sinkName := s.sink.Name()
	if s.guard != nil {
		seen, err := s.guard.Delivered(ctx, sinkName, event.ID)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "delivery guard unavailable, publishing anyway")
		case seen:
			s.record("skipped")
			return nil
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	if err := s.sink.Publish(sendCtx, resolved.Descriptor.Topic, messageFor(event, resolved.Envelope)); err != nil {
		return err
	}
	s.record("published")

	if s.guard != nil {
		if _, err := s.guard.Claim(ctx, sinkName, event.ID); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "delivery not remembered")
		}
	}
	return nil
}

// messageFor keys the message by aggregate so per-order ordering holds on
// partitioned sinks. The payload is forwarded byte for byte.
func messageFor(event models.OutboxEvent, envelope outbox.PayloadEnvelope) message {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     event.EventType.String(),
		"aggregate_type": event.AggregateType.String(),
		"aggregate_id":   event.AggregateID.String(),
	}
	if !event.CreatedAt.IsZero() {
		attrs["created_at"] = event.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return message{Key: event.AggregateID.String(), Data: event.Payload, Attributes: attrs}
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.IncOutboxPublish(s.sink.Name(), result)
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// nextBackoff doubles current, starting from base, capped at max.
func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, max)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
