package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/metrics"
)

var _ repositories.TranscriptPublisher = &Publisher{}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestPublisher(m *metrics.Metrics) (*Publisher, *fakeWriter, *fakeWriter) {
	interim, final := &fakeWriter{}, &fakeWriter{}
	return &Publisher{
		writerInterim: interim,
		writerFinal:   final,
		topicInterim:  "transcripts.interim",
		topicFinal:    "transcripts.final",
		enabled:       true,
		metrics:       m,
		logger:        zap.NewNop(),
	}, interim, final
}

func TestPublisher_RoutesByKind(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p, interim, final := newTestPublisher(m)
	ctx := context.Background()

	confidence := 0.92
	if err := p.Publish(ctx, "s1", entities.TranscriptEvent{Kind: entities.TranscriptInterim, Text: "hel", Sequence: 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Publish(ctx, "s1", entities.TranscriptEvent{Kind: entities.TranscriptFinal, Text: "hello", Sequence: 2, Confidence: &confidence}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(interim.msgs) != 1 || len(final.msgs) != 1 {
		t.Fatalf("interim = %d final = %d", len(interim.msgs), len(final.msgs))
	}
	msg := final.msgs[0]
	if string(msg.Key) != "s1" {
		t.Errorf("key = %q", msg.Key)
	}
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !ev.IsFinal || ev.Transcript != "hello" || ev.Sequence != 2 || ev.Confidence == nil || *ev.Confidence != confidence {
		t.Errorf("unexpected event %+v", ev)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("transcripts.final")); got != 1 {
		t.Errorf("final publishes = %v", got)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p, interim, _ := newTestPublisher(m)
	interim.err = errors.New("broker unavailable")

	err := p.Publish(context.Background(), "s1", entities.TranscriptEvent{Text: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("transcripts.interim")); got != 1 {
		t.Errorf("publish errors = %v", got)
	}
}

func TestPublisher_DisabledWithoutBrokers(t *testing.T) {
	p := New(Config{TopicInterim: "i", TopicFinal: "f"}, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	if err := p.Publish(context.Background(), "s1", entities.TranscriptEvent{Kind: entities.TranscriptFinal, Text: "x"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublisher_Close(t *testing.T) {
	p, interim, final := newTestPublisher(metrics.New(prometheus.NewRegistry()))
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !interim.closed || !final.closed {
		t.Error("writers not closed")
	}
}
