// Package ingest hosts the optional broker-based edge sources. Edge agents
// that batch over Kafka or publish beacon readings over MQTT are normalized
// into the same canonical events as the HTTP gateway; de-duplication
// downstream makes redelivery from either broker safe.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/event"
)

// Sink is the engine-side surface a source feeds. ProcessAsync reports false
// when the event was invalid or the queue was full; sources log and move on,
// producers own resubmission.
type Sink interface {
	ProcessAsync(ev *event.Event) bool
}

// KafkaSource consumes canonical events from the edge-events topic.
type KafkaSource struct {
	reader *kafka.Reader
	sink   Sink
	log    *slog.Logger
}

// NewKafkaSource builds a consumer for the configured topic.
func NewKafkaSource(cfg config.KafkaConf, sink Sink, log *slog.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &KafkaSource{reader: reader, sink: sink, log: log}, nil
}

// Run blocks until ctx is cancelled or the reader is closed, decoding
// messages and feeding them to the engine.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.log.Info("kafka source started", "topic", s.reader.Config().Topic)
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var ev event.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.log.Warn("kafka message decode failed", "err", err, "offset", msg.Offset)
		} else {
			ev.ReceivedAt = time.Now().UTC()
			if !s.sink.ProcessAsync(&ev) {
				s.log.Warn("kafka event not accepted", "event_id", ev.ID, "offset", msg.Offset)
			}
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Warn("kafka commit failed", "err", err)
		}
	}
}

// Close shuts down the underlying reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
