package outbox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

func TestSealEnvelopeDefaults(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	actor := &ActorRef{ActorID: uuid.New(), Role: "customer"}

	env, err := sealEnvelope(DomainEvent{
		EventType: enums.EventOrderStatusChanged,
		Actor:     actor,
		Data:      map[string]int{"quantity": 2},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.True(t, env.OccurredAt.Equal(now))
	assert.Same(t, actor, env.Actor)
	_, err = uuid.Parse(env.EventID)
	assert.NoError(t, err)

	stamped := now.Add(-time.Hour)
	env, err = sealEnvelope(DomainEvent{Data: "x", Version: 3, OccurredAt: stamped}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, env.Version)
	assert.True(t, env.OccurredAt.Equal(stamped))

	_, err = sealEnvelope(DomainEvent{Data: make(chan int)}, now)
	assert.Error(t, err)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"version":1,"event_id":"e-1","actor":{"actor_id":"` + uuid.Nil.String() + `"},"data":{"quantity":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "e-1", env.EventID)
	require.NotNil(t, env.Actor)

	var body struct {
		Quantity int `json:"quantity"`
	}
	require.NoError(t, env.DecodeData(&body))
	assert.Equal(t, 2, body.Quantity)

	for name, raw := range map[string]string{
		"null data":    `{"version":1,"data":null}`,
		"missing data": `{"version":1}`,
		"broken":       `{"data":`,
	} {
		_, err := DecodeEnvelope([]byte(raw))
		assert.Error(t, err, name)
	}
}
