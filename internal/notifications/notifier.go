// Package notifications turns committed domain changes into outbox events.
// Delivery is best effort: a failure is logged and never reaches the caller,
// whose business transaction has already committed.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
	"github.com/angelmondragon/campusstore-backend/pkg/logger"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox"
	"github.com/angelmondragon/campusstore-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OutboxNotifier writes notification events to the outbox in their own transaction.
type OutboxNotifier struct {
	tx     txRunner
	outbox emitter
	logg   *logger.Logger
	now    func() time.Time
}

func NewOutboxNotifier(tx txRunner, out emitter, logg *logger.Logger) (*OutboxNotifier, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if out == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &OutboxNotifier{tx: tx, outbox: out, logg: logg, now: time.Now}, nil
}

// StockAlertRaised queues a stock alert for purchasing.
func (n *OutboxNotifier) StockAlertRaised(ctx context.Context, alert models.StockAlert, available int) {
	event := outbox.DomainEvent{
		EventType:     enums.EventStockAlertRaised,
		AggregateType: enums.AggregateStockLedger,
		AggregateID:   alert.ProductID,
		Data: payloads.StockAlertRaisedEvent{
			ProductID:      alert.ProductID,
			Kind:           alert.Kind,
			Severity:       alert.Severity,
			AvailableStock: available,
			RaisedAt:       alert.RaisedAt,
		},
	}
	n.emit(n.logg.WithProductID(ctx, alert.ProductID.String()), event)
}

// OrderStatusChanged queues a status change for the customer channel.
func (n *OutboxNotifier) OrderStatusChanged(ctx context.Context, change payloads.OrderStatusChangedEvent, actor uuid.UUID) {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = n.now().UTC()
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   change.OrderID,
		Actor:         &outbox.ActorRef{ActorID: actor},
		Data:          change,
		OccurredAt:    change.ChangedAt,
	}
	n.emit(n.logg.WithOrderID(ctx, change.OrderID.String()), event)
}

func (n *OutboxNotifier) emit(ctx context.Context, event outbox.DomainEvent) {
	err := n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		logCtx := n.logg.WithField(ctx, "event_type", event.EventType)
		n.logg.Error(logCtx, "failed to queue notification", err)
	}
}
