// Package kafka publishes transcript events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicInterim string
	TopicFinal   string
}

// Event is the payload written for every transcript
type Event struct {
	SessionID  string    `json:"sessionId"`
	Sequence   int64     `json:"sequence"`
	IsFinal    bool      `json:"isFinal"`
	Transcript string    `json:"transcript"`
	Confidence *float64  `json:"confidence,omitempty"`
	Stability  *float64  `json:"stability,omitempty"`
	EmittedAt  time.Time `json:"emittedAt"`
}

// Publisher writes interim and final transcripts to separate topics.
// Without brokers it only logs.
type Publisher struct {
	writerInterim messageWriter
	writerFinal   messageWriter
	topicInterim  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// New creates a publisher for cfg
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	p := &Publisher{
		topicInterim: cfg.TopicInterim,
		topicFinal:   cfg.TopicFinal,
		metrics:      m,
		logger:       logger,
	}
	if len(cfg.Brokers) == 0 {
		logger.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.writerInterim = newWriter(cfg.TopicInterim)
	p.writerFinal = newWriter(cfg.TopicFinal)
	p.enabled = true

	logger.Info("Kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topicInterim", cfg.TopicInterim),
		zap.String("topicFinal", cfg.TopicFinal))
	return p
}

// Publish writes the event keyed by session id so a session's events stay on one partition
func (p *Publisher) Publish(ctx context.Context, sessionID string, event entities.TranscriptEvent) error {
	writer, topic := p.writerInterim, p.topicInterim
	if event.IsFinal() {
		writer, topic = p.writerFinal, p.topicFinal
	}

	payload, err := json.Marshal(Event{
		SessionID:  sessionID,
		Sequence:   event.Sequence,
		IsFinal:    event.IsFinal(),
		Transcript: event.Text,
		Confidence: event.Confidence,
		Stability:  event.Stability,
		EmittedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	p.logger.Debug("Publishing transcript event",
		zap.String("topic", topic),
		zap.String("sessionID", sessionID),
		zap.Int64("sequence", event.Sequence))

	if !p.enabled || writer == nil {
		return nil
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.Kind.String())},
		},
	})
	p.metrics.RecordKafkaPublish(topic, err)
	if err != nil {
		p.logger.Error("Failed to write to Kafka",
			zap.String("topic", topic),
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return err
	}
	return nil
}

// Close closes both writers
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []messageWriter{p.writerInterim, p.writerFinal} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
