package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

// ScriptStep is what a scripted stream replays for one trigger
type ScriptStep struct {
	Events []entities.TranscriptEvent
	Err    error
}

// ScriptedRecognizer is a provider-free StreamingRecognizer. It replays a
// step for every submitted chunk and another when the client ends the stream.
type ScriptedRecognizer struct {
	// OnChunk returns the step for the index-th chunk, received holds all audio so far
	OnChunk func(index int, received []byte) ScriptStep
	// OnClose returns the step replayed before the end event
	OnClose func(received []byte) ScriptStep
	// OpenErr makes OpenStream fail
	OpenErr error

	logger *zap.Logger

	mu      sync.Mutex
	streams []*ScriptedStream
}

// NewScriptedRecognizer replays steps[i] for the i-th chunk and closing at the end
func NewScriptedRecognizer(logger *zap.Logger, steps []ScriptStep, closing ScriptStep) *ScriptedRecognizer {
	return &ScriptedRecognizer{
		logger: logger,
		OnChunk: func(index int, _ []byte) ScriptStep {
			if index < len(steps) {
				return steps[index]
			}
			return ScriptStep{}
		},
		OnClose: func([]byte) ScriptStep {
			return closing
		},
	}
}

// NewMockSpeechToText creates the development recognizer used when no
// provider should be contacted. Results depend on the amount of audio received.
func NewMockSpeechToText(logger *zap.Logger) *ScriptedRecognizer {
	return &ScriptedRecognizer{
		logger: logger,
		OnChunk: func(_ int, received []byte) ScriptStep {
			return ScriptStep{Events: []entities.TranscriptEvent{
				{Kind: entities.TranscriptInterim, Text: mockPhrase(len(received))},
			}}
		},
		OnClose: func(received []byte) ScriptStep {
			if len(received) == 0 {
				return ScriptStep{}
			}
			confidence := 0.9
			return ScriptStep{Events: []entities.TranscriptEvent{
				{Kind: entities.TranscriptFinal, Text: mockPhrase(len(received)), Confidence: &confidence},
			}}
		},
	}
}

func mockPhrase(size int) string {
	switch {
	case size > 10000:
		return "Halo, apa kabar? Saya ingin bercerita tentang hari ini."
	case size > 5000:
		return "Halo, apa kabar?"
	case size > 1000:
		return "Halo"
	default:
		return "Hai"
	}
}

func (r *ScriptedRecognizer) OpenStream(ctx context.Context, cfg entities.StreamConfig) (repositories.RecognitionStream, error) {
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}

	r.logger.Info("Opening scripted recognition stream",
		zap.String("sessionID", cfg.SessionID),
		zap.String("provider", string(cfg.Provider)))

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &ScriptedStream{
		recognizer: r,
		emitter:    newEventEmitter(),
		queue:      newChunkQueue(),
		ctx:        streamCtx,
		cancel:     cancel,
	}

	r.mu.Lock()
	r.streams = append(r.streams, s)
	r.mu.Unlock()

	go s.run()
	return s, nil
}

// Streams returns every stream opened so far
func (r *ScriptedRecognizer) Streams() []*ScriptedStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ScriptedStream(nil), r.streams...)
}

// ScriptedStream records what it receives and replays the recognizer's
// script from its own goroutine, like a remote recognizer would.
type ScriptedStream struct {
	recognizer *ScriptedRecognizer
	emitter    *eventEmitter
	queue      *chunkQueue
	ctx        context.Context
	cancel     context.CancelFunc

	mu         sync.Mutex
	chunks     [][]byte
	sendClosed bool
	closed     bool
}

func (s *ScriptedStream) Submit(chunk entities.AudioChunk) error {
	if s.emitter.terminated() {
		return errStreamClosed
	}

	data := append([]byte(nil), chunk.Data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendClosed {
		return errStreamClosed
	}
	s.chunks = append(s.chunks, data)
	return s.queue.push(data)
}

func (s *ScriptedStream) Events() <-chan repositories.StreamEvent {
	return s.emitter.events()
}

func (s *ScriptedStream) CloseSend() error {
	s.mu.Lock()
	s.sendClosed = true
	s.mu.Unlock()

	s.queue.close()
	return nil
}

func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.emitter.shutdown()
	s.queue.close()
	return nil
}

// Chunks returns the payloads in the order they were submitted
func (s *ScriptedStream) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// Closed reports whether Close was called
func (s *ScriptedStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *ScriptedStream) run() {
	var received []byte
	for index := 0; ; index++ {
		data, ok := s.queue.pop(s.ctx)
		if !ok {
			break
		}
		received = append(received, data...)
		if s.recognizer.OnChunk == nil {
			continue
		}
		if !s.replay(s.recognizer.OnChunk(index, append([]byte(nil), received...))) {
			return
		}
	}

	if s.ctx.Err() != nil {
		return
	}
	if s.recognizer.OnClose != nil {
		if !s.replay(s.recognizer.OnClose(received)) {
			return
		}
	}
	s.emitter.end()
}

func (s *ScriptedStream) replay(step ScriptStep) bool {
	for _, ev := range step.Events {
		if !s.emitter.transcript(ev) {
			return false
		}
	}
	if step.Err != nil {
		s.emitter.fail(step.Err)
		return false
	}
	return true
}
