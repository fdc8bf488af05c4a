// Package idempotency remembers which outbox events a sink has already
// accepted, so a publisher that crashes between delivery and commit does not
// deliver the same event twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/campusstore-backend/pkg/redis"
)

// Manager records delivered event ids per sink using SETNX with a TTL.
// Keys follow `cs:idempotency:evt:delivered:<sink>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim records a delivery to sink. It returns true when the event had
// already been recorded.
func (m *Manager) Claim(ctx context.Context, sink string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(sink, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delivered reports whether the event was already accepted by sink.
func (m *Manager) Delivered(ctx context.Context, sink string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(sink, eventID)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Get(ctx, key); err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Manager) key(sink string, eventID uuid.UUID) (string, error) {
	if sink == "" {
		return "", errors.New("sink name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:delivered:%s", sink), eventID.String()), nil
}
