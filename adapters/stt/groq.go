package stt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const defaultGroqSubmitInterval = 2 * time.Second

// GroqConfig controls the pseudo-streaming cadence
type GroqConfig struct {
	Model             string
	MinSubmitInterval time.Duration
}

// GroqStreaming simulates streaming on top of a whole-file transcription
// endpoint. The accumulated recording is resubmitted at most once per
// MinSubmitInterval and every answer is reported as an interim result until
// the client ends the stream.
type GroqStreaming struct {
	transcriber repositories.BatchTranscriber
	config      GroqConfig
	logger      *zap.Logger
}

func NewGroqStreaming(transcriber repositories.BatchTranscriber, config GroqConfig, logger *zap.Logger) *GroqStreaming {
	if config.MinSubmitInterval == 0 {
		config.MinSubmitInterval = defaultGroqSubmitInterval
	}
	return &GroqStreaming{
		transcriber: transcriber,
		config:      config,
		logger:      logger,
	}
}

func (g *GroqStreaming) OpenStream(ctx context.Context, cfg entities.StreamConfig) (repositories.RecognitionStream, error) {
	if cfg.Auth.APIKey == "" {
		return nil, entities.NewValidationError("API key is required")
	}

	limit := rate.Inf
	if g.config.MinSubmitInterval > 0 {
		limit = rate.Every(g.config.MinSubmitInterval)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &groqStream{
		cfg:         cfg,
		model:       g.config.Model,
		transcriber: g.transcriber,
		limiter:     rate.NewLimiter(limit, 1),
		emitter:     newEventEmitter(),
		notify:      make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		logger:      g.logger.With(zap.String("sessionID", cfg.SessionID), zap.String("provider", string(cfg.Provider))),
	}
	if cfg.Model != "" {
		s.model = cfg.Model
	}

	go s.run()

	s.logger.Info("Groq pseudo-stream opened", zap.Duration("minSubmitInterval", g.config.MinSubmitInterval))
	return s, nil
}

type groqStream struct {
	cfg         entities.StreamConfig
	model       string
	transcriber repositories.BatchTranscriber
	limiter     *rate.Limiter
	emitter     *eventEmitter
	logger      *zap.Logger

	mu      sync.Mutex
	buf     []byte
	format  entities.AudioFormat
	dirty   bool
	ending  bool
	last    string
	hasLast bool

	notify    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *groqStream) Submit(chunk entities.AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	if s.emitter.terminated() {
		return errStreamClosed
	}

	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return errStreamClosed
	}
	if s.format == "" {
		s.format = chunk.Format
		if s.format == "" {
			s.format = entities.ResolveAudioFormat(chunk.Data, s.cfg.FileType, s.cfg.FileName)
		}
	}
	s.buf = append(s.buf, chunk.Data...)
	s.dirty = true
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *groqStream) Events() <-chan repositories.StreamEvent {
	return s.emitter.events()
}

func (s *groqStream) CloseSend() error {
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *groqStream) Close() error {
	s.closeOnce.Do(func() {
		s.emitter.shutdown()
		s.cancel()
	})
	return nil
}

func (s *groqStream) run() {
	defer s.cancel()

	for {
		dirty, ending := s.state()
		switch {
		case ending:
			if s.limiter.Wait(s.ctx) != nil {
				return
			}
			s.finish()
			return
		case dirty:
			if s.limiter.Wait(s.ctx) != nil {
				return
			}
			if _, ending := s.state(); ending {
				s.finish()
				return
			}
			if !s.submitInterim() {
				return
			}
		default:
			select {
			case <-s.ctx.Done():
				return
			case <-s.notify:
			}
		}
	}
}

func (s *groqStream) submitInterim() bool {
	audio, format := s.snapshot()

	text, ok := s.transcribe(audio, format)
	if !ok {
		return false
	}

	s.mu.Lock()
	s.last, s.hasLast = text, true
	s.mu.Unlock()

	if text == "" {
		return true
	}
	return s.emitter.transcript(entities.TranscriptEvent{Kind: entities.TranscriptInterim, Text: text})
}

// finish reports the result for the complete recording as final. The last
// interim answer is reused when no audio arrived after it.
func (s *groqStream) finish() {
	s.mu.Lock()
	dirty, last, hasLast, empty := s.dirty, s.last, s.hasLast, len(s.buf) == 0
	s.mu.Unlock()

	if empty {
		s.emitter.end()
		return
	}

	text := last
	if dirty || !hasLast {
		audio, format := s.snapshot()
		var ok bool
		if text, ok = s.transcribe(audio, format); !ok {
			return
		}
	}

	if text != "" {
		if !s.emitter.transcript(entities.TranscriptEvent{Kind: entities.TranscriptFinal, Text: text}) {
			return
		}
	}
	s.emitter.end()
}

func (s *groqStream) transcribe(audio []byte, format entities.AudioFormat) (string, bool) {
	start := time.Now()
	result, err := s.transcriber.TranscribeAudio(s.ctx, repositories.BatchRequest{
		APIKey:   s.cfg.Auth.APIKey,
		Audio:    audio,
		FileName: s.cfg.FileName,
		Format:   format,
		Model:    s.model,
		Language: s.cfg.Language(),
		Prompt:   s.cfg.Prompt,
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return "", false
		}
		s.logger.Warn("Groq submission failed", zap.Error(err), zap.Int("audioBytes", len(audio)))
		s.emitter.fail(err)
		return "", false
	}

	s.logger.Debug("Groq submission completed",
		zap.Int("audioBytes", len(audio)),
		zap.Duration("latency", time.Since(start)),
	)
	return result.Text, true
}

func (s *groqStream) snapshot() ([]byte, entities.AudioFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = false
	audio := make([]byte, len(s.buf))
	copy(audio, s.buf)
	return audio, s.format
}

func (s *groqStream) state() (dirty, ending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty, s.ending
}

func (s *groqStream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
