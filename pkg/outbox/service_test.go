package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusstore-backend/pkg/db/models"
	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()
	actor := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{ActorID: actor, Role: "admin"},
			Data:          map[string]string{"status": "confirmed"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor, envelope.Actor.ActorID)
	assert.JSONEq(t, `{"status":"confirmed"}`, string(envelope.Data))

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC) }

	bad := []DomainEvent{
		{EventType: "coupon_redeemed", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		{EventType: enums.EventOrderStatusChanged, AggregateType: enums.AggregateOrder},
		{EventType: enums.EventStockAlertRaised, AggregateType: "warehouse", AggregateID: uuid.New()},
	}
	for _, event := range bad {
		err := conn.Transaction(func(tx *gorm.DB) error { return svc.Emit(context.Background(), tx, event) })
		assert.Error(t, err, "%+v", event)
	}

	productID := uuid.New()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventStockAlertRaised,
			AggregateType: enums.AggregateStockLedger,
			AggregateID:   productID,
			Version:       3,
			Data:          map[string]int{"available_stock": 0},
		})
	}))
	var row models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", productID).First(&row).Error)
	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.Equal(t, 3, env.Version)
	assert.True(t, env.OccurredAt.Equal(svc.now()), "occurred_at = %v", env.OccurredAt)
}

func TestFetchSkipsPublishedAndExhaustedRows(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	fresh := seedEvent(t, conn)
	published := seedEvent(t, conn)
	exhausted := seedEvent(t, conn)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, published); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, exhausted, errors.New("gone"), 3)
	}))
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, fresh, errors.New("timeout"))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, rows, 1)
	assert.Equal(t, fresh, rows[0].ID)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "timeout", *rows[0].LastError)

	pending, err := repo.CountUnpublished(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	old := seedEvent(t, conn)
	recent := seedEvent(t, conn)
	unpublished := seedEvent(t, conn)

	now := time.Now().UTC()
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", old).Update("published_at", now.Add(-40*24*time.Hour)).Error)
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", recent).Update("published_at", now.Add(-time.Hour)).Error)

	deleted, err := repo.DeletePublishedBefore(context.Background(), now.Add(-30*24*time.Hour), 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var remaining []uuid.UUID
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Order("created_at").Pluck("id", &remaining).Error)
	assert.ElementsMatch(t, []uuid.UUID{recent, unpublished}, remaining)
}

func TestDLQRepositoryTruncatesAndFilters(t *testing.T) {
	conn := newTestDB(t)
	dlq := NewDLQRepository(conn)
	eventID := uuid.New()
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventStockAlertRaised,
			AggregateType: enums.AggregateStockLedger,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
			FailedAt:      time.Now().UTC(),
		})
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err := dlq.List(context.Background(), enums.OutboxDLQReasonNonRetryable, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	rows, err = dlq.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}))
	return conn
}

func seedEvent(t *testing.T, conn *gorm.DB) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"event_id":"x","data":{}}`),
	}
	require.NoError(t, conn.Create(&row).Error)
	return row.ID
}
