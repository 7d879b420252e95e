package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/metrics"
)

// SessionObserver is told about everything a session delivers.
// Calls are made without any session lock held.
type SessionObserver interface {
	TranscriptEmitted(sessionID string, event entities.TranscriptEvent)
	SessionFinished(record entities.TranscriptRecord)
}

type nopObserver struct{}

func (nopObserver) TranscriptEmitted(string, entities.TranscriptEvent) {}
func (nopObserver) SessionFinished(entities.TranscriptRecord)         {}

// StreamingSession relays one recording between a client and a provider
// stream. Messages reach the sink in the order the provider produced them
// and nothing follows the first end or error message.
type StreamingSession struct {
	id     string
	connID string

	recognizer repositories.StreamingRecognizer
	sink       EventSink
	observer   SessionObserver
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// onClosed is called once when the session leaves the live states
	onClosed func(*StreamingSession)

	ctx    context.Context
	cancel context.CancelFunc

	// Lock order is submitMu, then sendMu, then mu. Neither the provider
	// stream nor the sink is called with mu held.
	submitMu sync.Mutex
	sendMu   sync.Mutex

	mu           sync.Mutex
	outbox       []any
	cfg          entities.StreamConfig
	state        entities.SessionState
	stream       repositories.RecognitionStream
	pending      [][]byte
	endRequested bool
	transcript   entities.RunningTranscript
	sequence     int64
	terminal     bool
	started      bool
	status       entities.TranscriptStatus
	lastErr      error
	startedAt    time.Time
	lastActivity time.Time

	finishOnce sync.Once
}

// NewStreamingSession creates an idle session bound to one connection
func NewStreamingSession(
	id, connID string,
	recognizer repositories.StreamingRecognizer,
	sink EventSink,
	observer SessionObserver,
	m *metrics.Metrics,
	logger *zap.Logger,
) *StreamingSession {
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamingSession{
		id:         id,
		connID:     connID,
		recognizer: recognizer,
		sink:       sink,
		observer:   observer,
		metrics:    m,
		logger:     logger.With(zap.String("sessionID", id), zap.String("connectionID", connID)),
		ctx:        ctx,
		cancel:     cancel,
		state:      entities.SessionStateIdle,
	}
}

func (s *StreamingSession) ID() string { return s.id }

func (s *StreamingSession) ConnectionID() string { return s.connID }

// State returns the current lifecycle state
func (s *StreamingSession) State() entities.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Live reports whether the session may still emit messages
func (s *StreamingSession) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.terminal && s.state.IsLive()
}

// IdleFor returns how long neither side has produced anything
func (s *StreamingSession) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastActivity.IsZero() {
		return 0
	}
	return now.Sub(s.lastActivity)
}

// Start validates cfg and opens the provider stream in the background.
// initial is the first piece of audio and is required.
func (s *StreamingSession) Start(cfg entities.StreamConfig, initial []byte) {
	s.mu.Lock()
	if s.state != entities.SessionStateIdle || s.terminal {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	s.cfg = cfg
	s.startedAt = now
	s.lastActivity = now

	err := cfg.Validate()
	if err == nil && len(initial) == 0 {
		err = entities.NewValidationError("audio content is required")
	}
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.flushOutbox()
		s.logger.Info("Rejected stream request", zap.Error(err))
		s.finish()
		return
	}

	s.state = entities.SessionStateStarting
	s.started = true
	s.pending = append(s.pending, initial)
	s.endRequested = cfg.CompleteFile
	s.mu.Unlock()

	s.metrics.RecordSessionStart(string(cfg.Provider))
	s.metrics.RecordAudio(len(initial), true)
	s.logger.Info("Stream starting",
		zap.String("provider", string(cfg.Provider)),
		zap.Strings("languages", cfg.LanguageCodes),
		zap.Bool("completeFile", cfg.CompleteFile))

	go s.open(cfg)
}

func (s *StreamingSession) open(cfg entities.StreamConfig) {
	stream, err := s.recognizer.OpenStream(s.ctx, cfg)

	s.submitMu.Lock()
	s.mu.Lock()
	if s.state != entities.SessionStateStarting || s.terminal {
		s.mu.Unlock()
		s.submitMu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return
	}

	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		s.submitMu.Unlock()
		s.flushOutbox()
		s.logger.Warn("Failed to open recognition stream", zap.Error(err))
		s.finish()
		return
	}

	s.stream = stream
	s.state = entities.SessionStateStreaming
	s.outbox = append(s.outbox, newStatusMessage(MessageTypeStart, s.id, "Streaming recognition started"))
	pending := s.pending
	s.pending = nil
	closeSend := s.endRequested
	if closeSend {
		s.state = entities.SessionStateEnding
	}
	s.mu.Unlock()

	for _, data := range pending {
		if err := stream.Submit(entities.AudioChunk{Data: data}); err != nil {
			s.logger.Debug("Dropped queued audio", zap.Error(err))
		}
	}
	if closeSend {
		if err := stream.CloseSend(); err != nil {
			s.logger.Debug("CloseSend failed", zap.Error(err))
		}
	}
	s.submitMu.Unlock()

	s.flushOutbox()
	s.logger.Debug("Recognition stream open")
	go s.pump(stream.Events())
}

// Submit forwards audio in call order. Audio that arrives while the
// provider is still connecting is queued and flushed once it is ready.
func (s *StreamingSession) Submit(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	state := s.state
	if s.terminal {
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s", s.id, state)
	}

	s.lastActivity = time.Now()
	switch state {
	case entities.SessionStateStarting:
		s.pending = append(s.pending, data)
		s.mu.Unlock()
		s.metrics.RecordAudio(len(data), true)
		return nil
	case entities.SessionStateStreaming:
		stream := s.stream
		s.mu.Unlock()
		s.metrics.RecordAudio(len(data), false)
		return stream.Submit(entities.AudioChunk{Data: data})
	default:
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s", s.id, state)
	}
}

// End signals that the client finished recording
func (s *StreamingSession) End() {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	switch {
	case s.terminal:
		s.mu.Unlock()
	case s.state == entities.SessionStateStarting:
		s.endRequested = true
		s.mu.Unlock()
	case s.state == entities.SessionStateStreaming:
		s.state = entities.SessionStateEnding
		stream := s.stream
		s.lastActivity = time.Now()
		s.mu.Unlock()
		if err := stream.CloseSend(); err != nil {
			s.logger.Debug("CloseSend failed", zap.Error(err))
		}
	default:
		s.mu.Unlock()
	}
}

// Fail terminates the session with a single error message
func (s *StreamingSession) Fail(err error) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.failLocked(err)
	s.mu.Unlock()
	s.flushOutbox()
	s.finish()
}

// Close aborts the session without telling the client
func (s *StreamingSession) Close() {
	s.mu.Lock()
	if !s.terminal {
		s.terminal = true
		s.status = entities.TranscriptStatusAborted
		s.state = entities.SessionStateClosed
	}
	s.mu.Unlock()
	s.finish()
}

func (s *StreamingSession) pump(events <-chan repositories.StreamEvent) {
	for ev := range events {
		if !s.handle(ev) {
			return
		}
	}

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.failLocked(entities.NewProviderError("recognition stream closed unexpectedly", nil))
	s.mu.Unlock()
	s.flushOutbox()
	s.finish()
}

// handle applies one adapter event and reports whether more are expected
func (s *StreamingSession) handle(ev repositories.StreamEvent) bool {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return false
	}
	s.lastActivity = time.Now()

	var (
		emitted   *entities.TranscriptEvent
		duplicate bool
	)

	switch ev.Kind {
	case repositories.StreamEventTranscript:
		emitted, duplicate = s.transcriptLocked(ev.Transcript)

	case repositories.StreamEventWarning:
		s.outbox = append(s.outbox, newStatusMessage(MessageTypeWarning, s.id, ev.Message))

	case repositories.StreamEventEnd:
		s.terminal = true
		s.status = entities.TranscriptStatusCompleted
		s.state = entities.SessionStateClosed
		s.outbox = append(s.outbox, newStatusMessage(MessageTypeEnd, s.id, "Streaming recognition ended"))

	case repositories.StreamEventError:
		err := ev.Err
		if err == nil {
			err = entities.NewProviderError(ev.Message, nil)
		}
		s.failLocked(err)
	}

	terminal := s.terminal
	s.mu.Unlock()
	s.flushOutbox()

	if emitted != nil {
		s.metrics.RecordTranscript(string(s.cfg.Provider), emitted.IsFinal())
		s.observer.TranscriptEmitted(s.id, *emitted)
	}
	if duplicate {
		s.metrics.RecordDuplicate()
	}
	if terminal {
		s.finish()
		return false
	}
	return true
}

func (s *StreamingSession) transcriptLocked(t entities.TranscriptEvent) (*entities.TranscriptEvent, bool) {
	var full string
	if t.IsFinal() {
		res := s.transcript.Reconcile(t.Text)
		if !res.IsNew {
			return nil, strings.TrimSpace(t.Text) != ""
		}
		t.Text = strings.TrimSpace(res.AppendedText)
		full = res.UpdatedText
	} else {
		s.transcript.SetInterim(t.Text)
		full = strings.TrimSpace(s.transcript.CommittedText() + " " + t.Text)
	}

	s.sequence++
	t.Sequence = s.sequence

	s.outbox = append(s.outbox, TranscriptionMessage{
		Type:           MessageTypeTranscription,
		SessionID:      s.id,
		Sequence:       t.Sequence,
		IsFinal:        t.IsFinal(),
		Transcript:     t.Text,
		FullTranscript: full,
		Confidence:     t.Confidence,
		Stability:      t.Stability,
	})
	return &t, false
}

func (s *StreamingSession) failLocked(err error) {
	s.terminal = true
	s.state = entities.SessionStateFailed
	s.status = entities.TranscriptStatusFailed
	s.lastErr = err
	s.outbox = append(s.outbox, newStatusMessage(MessageTypeError, s.id, entities.ClientMessage(err)))
	s.state = entities.SessionStateClosed
}

// flushOutbox sends queued messages in the order they were decided.
// A slow sink only holds back other senders, never audio submission.
func (s *StreamingSession) flushOutbox() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	msgs := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, msg := range msgs {
		s.sink.SendJSON(msg)
	}
}

// finish releases provider resources and reports the outcome, once
func (s *StreamingSession) finish() {
	s.finishOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		stream := s.stream
		started := s.started
		record := s.recordLocked()
		err := s.lastErr
		s.mu.Unlock()

		if stream != nil {
			if cerr := stream.Close(); cerr != nil {
				s.logger.Debug("Failed to close recognition stream", zap.Error(cerr))
			}
		}
		if s.onClosed != nil {
			s.onClosed(s)
		}

		provider := string(record.Provider)
		if err != nil {
			s.metrics.RecordProviderError(provider, string(entities.KindOf(err)))
		}
		if !started {
			return
		}

		s.metrics.RecordSessionEnd(provider, string(record.Status), record.Duration().Seconds())
		s.observer.SessionFinished(record)

		fields := []zap.Field{
			zap.String("status", string(record.Status)),
			zap.Int64("lastSequence", record.LastSequence),
			zap.Duration("duration", record.Duration()),
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fields = append(fields, zap.Error(err))
		}
		s.logger.Info("Stream finished", fields...)
	})
}

func (s *StreamingSession) recordLocked() entities.TranscriptRecord {
	record := entities.TranscriptRecord{
		SessionID:    s.id,
		ConnectionID: s.connID,
		Provider:     s.cfg.Provider,
		Language:     s.cfg.Language(),
		Text:         s.transcript.CommittedText(),
		FinalCount:   s.transcript.FinalCount(),
		LastSequence: s.sequence,
		Status:       s.status,
		StartedAt:    s.startedAt,
		EndedAt:      time.Now(),
	}
	if record.Status == "" {
		record.Status = entities.TranscriptStatusAborted
	}
	if s.lastErr != nil {
		record.Error = entities.ClientMessage(s.lastErr)
	}
	return record
}
