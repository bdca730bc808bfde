// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ManuGH/crmrealtime/internal/log"
	"github.com/ManuGH/crmrealtime/internal/metrics"
	"github.com/ManuGH/crmrealtime/internal/realtime/bus"
)

// Ingest results, used as the metrics label.
const (
	resultPublished = "published"
	resultMalformed = "malformed"
	resultRejected  = "rejected"
	resultRetried   = "retried"
)

// MessageReader is the subset of *kafka.Reader the bridge needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the consumer group the bridge joins.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader creates a consumer-group reader with manual commits.
func NewKafkaReader(cfg KafkaConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka ingest requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka ingest requires a topic")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka ingest requires a group id")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
	}), nil
}

// ingestMessage is the JSON value of a Kafka record.
type ingestMessage struct {
	Topic          string            `json:"topic"`
	TenantID       string            `json:"tenant_id"`
	Region         string            `json:"region,omitempty"`
	Compliance     map[string]string `json:"compliance,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
}

func (m ingestMessage) event() bus.Event {
	return bus.Event{
		Topic:          m.Topic,
		Payload:        m.Payload,
		TenantID:       m.TenantID,
		Region:         m.Region,
		Compliance:     m.Compliance,
		IdempotencyKey: m.IdempotencyKey,
	}
}

// KafkaBridge republishes Kafka records on the bus. Offsets are committed
// only once the record is on the bus or known to be unpublishable.
type KafkaBridge struct {
	reader        MessageReader
	bus           bus.Bus
	defaultRegion string
	logger        zerolog.Logger
	newBackOff    func() backoff.BackOff
}

// NewKafkaBridge returns a bridge reading from r.
func NewKafkaBridge(r MessageReader, b bus.Bus) *KafkaBridge {
	return &KafkaBridge{
		reader: r,
		bus:    b,
		logger: log.WithComponent("ingest"),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 200 * time.Millisecond
			bo.MaxInterval = 30 * time.Second
			return bo
		},
	}
}

// WithDefaultRegion sets the region stamped on records that carry none.
func (k *KafkaBridge) WithDefaultRegion(region string) *KafkaBridge {
	k.defaultRegion = region
	return k
}

// Run consumes until ctx is cancelled or the bus is closed, then closes the
// reader. A cancelled context is not an error.
func (k *KafkaBridge) Run(ctx context.Context) error {
	defer func() { _ = k.reader.Close() }()

	k.logger.Info().Str(log.FieldEvent, "ingest.started").Msg("kafka ingest bridge started")
	fetchBO := k.newBackOff()
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				k.logger.Info().Str(log.FieldEvent, "ingest.stopped").Msg("kafka ingest bridge stopped")
				return nil
			}
			k.logger.Warn().Err(err).Str(log.FieldEvent, "ingest.fetch_failed").Msg("kafka fetch failed")
			if !sleep(ctx, fetchBO.NextBackOff()) {
				return nil
			}
			continue
		}
		fetchBO.Reset()

		if err := k.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handle publishes one record, retrying while the bus is unavailable.
func (k *KafkaBridge) handle(ctx context.Context, msg kafka.Message) error {
	logger := k.logger.With().
		Str("kafka_topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	var in ingestMessage
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		metrics.IngestMessagesTotal.WithLabelValues(resultMalformed).Inc()
		logger.Warn().Err(err).Str(log.FieldEvent, "ingest.malformed").Msg("skipping malformed kafka record")
		return k.commit(ctx, msg)
	}

	ev := in.event()
	if ev.Region == "" {
		ev.Region = k.defaultRegion
	}

	bo := k.newBackOff()
	for {
		env, err := k.bus.Publish(ctx, ev)
		switch {
		case err == nil:
			metrics.IngestMessagesTotal.WithLabelValues(resultPublished).Inc()
			logger.Debug().
				Str(log.FieldEvent, "ingest.published").
				Str(log.FieldTopic, env.Topic).
				Str(log.FieldEnvelopeID, env.ID).
				Msg("kafka record published")
			return k.commit(ctx, msg)
		case errors.Is(err, bus.ErrInvalidEvent):
			metrics.IngestMessagesTotal.WithLabelValues(resultRejected).Inc()
			logger.Warn().Err(err).Str(log.FieldEvent, "ingest.rejected").Msg("skipping invalid event")
			return k.commit(ctx, msg)
		case errors.Is(err, bus.ErrBusUnavailable):
			metrics.IngestMessagesTotal.WithLabelValues(resultRetried).Inc()
			wait := bo.NextBackOff()
			logger.Warn().Err(err).
				Str(log.FieldEvent, "ingest.bus_unavailable").
				Dur("retry_in", wait).
				Msg("bus unavailable, retrying record")
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
		default:
			return fmt.Errorf("publish kafka record: %w", err)
		}
	}
}

func (k *KafkaBridge) commit(ctx context.Context, msg kafka.Message) error {
	if err := k.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
