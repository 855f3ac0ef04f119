package artifacts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/segmentio/kafka-go"
)

// ArtifactProducer publishes rollup trigger events to Kafka.
type ArtifactProducer struct {
	Writer *kafka.Writer
}

// NewArtifactProducer initializes a Kafka writer for rollup trigger events.
func NewArtifactProducer(brokers []string, topic string, transport kafka.RoundTripper) *ArtifactProducer {
	return &ArtifactProducer{
		Writer: &kafka.Writer{
			Addr:      kafka.TCP(brokers...),
			Topic:     topic,
			Balancer:  &kafka.Hash{},
			Transport: transport,
		},
	}
}

func newEnvelope(eventType string) Envelope {
	return Envelope{
		EventType:     eventType,
		EventID:       uuid.New().String(),
		EventTime:     time.Now().UTC(),
		SchemaVersion: "v1",
	}
}

// PublishArtifactScanned announces new findings on an artifact. Messages are
// keyed by artifact so events for one artifact stay ordered.
func (p *ArtifactProducer) PublishArtifactScanned(ctx context.Context, org, artifactKey string, scannedAt time.Time) error {
	payload, err := json.Marshal(ArtifactScannedEvent{
		Envelope:  newEnvelope(EventArtifactScanned),
		Org:       org,
		Artifact:  artifactKey,
		ScannedAt: scannedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(artifactKey), Value: payload})
}

// PublishAnalysisChanged announces a changed triage decision at scope.
func (p *ArtifactProducer) PublishAnalysisChanged(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) error {
	payload, err := json.Marshal(AnalysisChangedEvent{
		Envelope: newEnvelope(EventAnalysisChanged),
		Org:      org,
		Scope:    scope,
		ScopeKey: scopeKey,
	})
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(org), Value: payload})
}

// Close cleans up the Kafka writer
func (p *ArtifactProducer) Close() error {
	return p.Writer.Close()
}
