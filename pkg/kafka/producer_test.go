package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusstore-backend/pkg/config"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{Brokers: []string{" ", ""}}, nil)
	require.ErrorIs(t, err, errNoBrokers)
}

func TestHeadersAreSorted(t *testing.T) {
	headers := Headers(map[string]string{"event_type": "order.status_changed", "aggregate_id": "a1"})
	require.Len(t, headers, 2)
	assert.Equal(t, "aggregate_id", headers[0].Key)
	assert.Equal(t, []byte("order.status_changed"), headers[1].Value)
	assert.Nil(t, Headers(nil))
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, Brokers([]string{" k1:9092", "", "k2:9092 "}))
}
