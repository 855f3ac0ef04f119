// Package kafka consumes rollup trigger events and dispatches them to the
// rollup service.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ortelius/pdvd-rollup/config"
	"github.com/ortelius/pdvd-rollup/events/modules/artifacts"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// NewDialer returns the dialer for cfg: SASL/PLAIN over TLS when credentials
// are set, plain TCP otherwise.
func NewDialer(cfg config.KafkaConfig) *kafka.Dialer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.APIKey, Password: cfg.APISecret}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return dialer
}

// NewTransport returns the writer transport matching NewDialer, or nil for
// the kafka-go default.
func NewTransport(cfg config.KafkaConfig) kafka.RoundTripper {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{Username: cfg.APIKey, Password: cfg.APISecret},
		TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// RunEventProcessor checks broker connectivity, then consumes events in the
// background until ctx is done. Handler failures are logged and the message
// is committed; a rollup that failed is picked up again by the sweeps.
func RunEventProcessor(ctx context.Context, cfg config.KafkaConfig, service artifacts.RollupService, logger *zap.Logger) error {
	if !cfg.Enabled() {
		return fmt.Errorf("kafka brokers not configured")
	}
	dialer := NewDialer(cfg)

	var err error
	for i := 1; i <= 3; i++ {
		logger.Sugar().Infof("Kafka connection attempt %d/3...", i)
		var conn *kafka.Conn
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err == nil {
			conn.Close()
			break
		}
		if i < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to reach kafka: %w", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})

	go func() {
		defer reader.Close()
		logger.Sugar().Infof("Kafka event processor listening on %s", cfg.Topic)

		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("Kafka read failed", zap.Error(err))
				continue
			}
			if err := artifacts.HandleEvent(ctx, msg.Value, service, logger); err != nil {
				logger.Warn("Event handling failed",
					zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			}
		}
	}()

	return nil
}
