package kafka

import (
	"context"
	"testing"

	"github.com/ortelius/pdvd-rollup/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewDialerWithoutCredentials(t *testing.T) {
	d := NewDialer(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Nil(t, d.SASLMechanism)
	assert.Nil(t, d.TLS)
	assert.Nil(t, NewTransport(config.KafkaConfig{}))
}

func TestNewDialerWithCredentials(t *testing.T) {
	cfg := config.KafkaConfig{Brokers: []string{"broker:9093"}, APIKey: "key", APISecret: "secret"}
	d := NewDialer(cfg)
	assert.Equal(t, "PLAIN", d.SASLMechanism.Name())
	assert.NotNil(t, d.TLS)

	tr, ok := NewTransport(cfg).(*kafka.Transport)
	assert.True(t, ok)
	assert.NotNil(t, tr.TLS)
}

func TestRunEventProcessorRequiresBrokers(t *testing.T) {
	err := RunEventProcessor(context.Background(), config.KafkaConfig{}, nil, zap.NewNop())
	assert.Error(t, err)
}
