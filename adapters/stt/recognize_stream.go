package stt

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

// recognitionResult is the first alternative of one provider result
type recognitionResult struct {
	Transcript string
	IsFinal    bool
	Confidence *float64
	Stability  *float64
}

// recognizeConn is a bidirectional recognition channel that has already
// received its configuration message.
type recognizeConn interface {
	SendAudio(data []byte) error
	CloseSend() error
	Recv() ([]recognitionResult, error)
	Close() error
}

// recognizeStream drives a recognizeConn: a sender goroutine drains the
// chunk queue in order and a receiver goroutine turns responses into events.
type recognizeStream struct {
	conn     recognizeConn
	queue    *chunkQueue
	emitter  *eventEmitter
	maxChunk int
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newRecognizeStream(ctx context.Context, conn recognizeConn, maxChunk int, warnings []string, logger *zap.Logger) *recognizeStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &recognizeStream{
		conn:     conn,
		queue:    newChunkQueue(),
		emitter:  newEventEmitter(),
		maxChunk: maxChunk,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, w := range warnings {
		s.emitter.warning(w)
	}

	go s.sendLoop()
	go s.receiveLoop()

	return s
}

func (s *recognizeStream) Submit(chunk entities.AudioChunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}
	if s.emitter.terminated() {
		return errStreamClosed
	}
	return s.queue.push(chunk.Data)
}

func (s *recognizeStream) Events() <-chan repositories.StreamEvent {
	return s.emitter.events()
}

func (s *recognizeStream) CloseSend() error {
	s.queue.close()
	return nil
}

func (s *recognizeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.emitter.shutdown()
		s.cancel()
		s.queue.close()
		err = s.conn.Close()
	})
	return err
}

func (s *recognizeStream) sendLoop() {
	for {
		data, ok := s.queue.pop(s.ctx)
		if !ok {
			break
		}
		for _, piece := range splitChunk(data, s.maxChunk) {
			if err := s.conn.SendAudio(piece); err != nil {
				// io.EOF means the stream broke, the receiver reports the real status
				if !errors.Is(err, io.EOF) {
					s.fail(err)
				}
				return
			}
		}
	}

	if s.ctx.Err() != nil {
		return
	}
	if err := s.conn.CloseSend(); err != nil {
		s.fail(err)
	}
}

func (s *recognizeStream) receiveLoop() {
	defer s.cancel()

	for {
		results, err := s.conn.Recv()
		if errors.Is(err, io.EOF) {
			s.emitter.end()
			return
		}
		if err != nil {
			if s.ctx.Err() != nil && status.Code(err) == codes.Canceled {
				return
			}
			s.fail(err)
			return
		}

		for _, r := range results {
			kind := entities.TranscriptInterim
			if r.IsFinal {
				kind = entities.TranscriptFinal
			}
			if !s.emitter.transcript(entities.TranscriptEvent{
				Kind:       kind,
				Text:       r.Transcript,
				Confidence: r.Confidence,
				Stability:  r.Stability,
			}) {
				return
			}
		}
	}
}

func (s *recognizeStream) fail(err error) {
	if s.emitter.fail(classifyGRPCError(err)) {
		s.logger.Warn("Recognition stream failed", zap.Error(err))
	}
	s.cancel()
}

// classifyGRPCError maps a gRPC status onto the domain error kinds
func classifyGRPCError(err error) error {
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return entities.NewProviderError("Speech API error", err)
	}

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return entities.NewAuthError("Speech API rejected the credentials", errors.New(st.Message()))
	case codes.DeadlineExceeded:
		return entities.NewProviderError("Speech API timed out", errors.New(st.Message()))
	default:
		return entities.NewProviderError("Speech API error", errors.New(st.Message()))
	}
}

// splitChunk cuts data into pieces no larger than limit, limit <= 0 disables splitting
func splitChunk(data []byte, limit int) [][]byte {
	if limit <= 0 || len(data) <= limit {
		return [][]byte{data}
	}
	pieces := make([][]byte, 0, (len(data)+limit-1)/limit)
	for len(data) > limit {
		pieces = append(pieces, data[:limit])
		data = data[limit:]
	}
	return append(pieces, data)
}

func float32Ptr(v float32) *float64 {
	if v == 0 {
		return nil
	}
	f := float64(v)
	return &f
}
