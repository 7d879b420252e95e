package repositories

import (
	"context"

	"github.com/satriahrh/speechgate/domain/entities"
)

// StreamingRecognizer abstracts streaming speech recognition providers
type StreamingRecognizer interface {
	// OpenStream establishes the provider channel for one session
	OpenStream(ctx context.Context, cfg entities.StreamConfig) (RecognitionStream, error)
}

// RecognitionStream is one open provider channel.
//
// Events delivers zero or more transcript and warning events followed by
// exactly one end or error event, after which the channel is closed. Nothing
// is delivered after Close.
type RecognitionStream interface {
	// Submit queues audio for the provider in call order without waiting for results
	Submit(chunk entities.AudioChunk) error
	// Events returns the ordered output of the stream
	Events() <-chan StreamEvent
	// CloseSend signals that no more audio will be submitted
	CloseSend() error
	// Close aborts the stream and releases provider resources. Idempotent.
	Close() error
}

// StreamEventKind identifies what a StreamEvent carries
type StreamEventKind int

const (
	StreamEventTranscript StreamEventKind = iota
	StreamEventWarning
	StreamEventEnd
	StreamEventError
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamEventTranscript:
		return "transcript"
	case StreamEventWarning:
		return "warning"
	case StreamEventEnd:
		return "end"
	case StreamEventError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further events follow this one
func (k StreamEventKind) IsTerminal() bool {
	return k == StreamEventEnd || k == StreamEventError
}

// StreamEvent is a single item on a RecognitionStream's event channel
type StreamEvent struct {
	Kind       StreamEventKind
	Transcript entities.TranscriptEvent
	Message    string
	Err        error
}

// BatchTranscriber transcribes a complete recording in one request
type BatchTranscriber interface {
	TranscribeAudio(ctx context.Context, req BatchRequest) (*BatchResult, error)
}

// BatchRequest is a whole-file transcription request
type BatchRequest struct {
	APIKey   string
	Audio    []byte
	FileName string
	Format   entities.AudioFormat
	Model    string
	Language string
	Prompt   string
}

// BatchResult is the outcome of a whole-file transcription
type BatchResult struct {
	Text     string
	Language string
	Duration float64
}

// ProviderResponse is a provider answer forwarded to the browser as received
type ProviderResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// BatchForwarder sends a whole-file transcription and returns the provider answer as received
type BatchForwarder interface {
	Forward(ctx context.Context, req BatchRequest) (*ProviderResponse, error)
}

// RecognizeRequest is one synchronous Google recognize call. Body is sent as JSON.
type RecognizeRequest struct {
	Version        string
	APIKey         string
	ServiceAccount []byte
	ProjectID      string
	Region         string
	Body           any
}

// RecognizeForwarder forwards synchronous recognize calls to Google
type RecognizeForwarder interface {
	Recognize(ctx context.Context, req RecognizeRequest) (*ProviderResponse, error)
}

// ShortAudioRequest is a short-audio recognition call with the raw recording as body
type ShortAudioRequest struct {
	APIKey      string
	Region      string
	Language    string
	Format      string
	ContentType string
	Audio       []byte
}

// ShortAudioForwarder forwards short recordings to a REST recognizer
type ShortAudioForwarder interface {
	Transcribe(ctx context.Context, req ShortAudioRequest) (*ProviderResponse, error)
}
