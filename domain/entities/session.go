package entities

import (
	"fmt"
	"strings"
	"time"
)

// SessionState represents where a streaming session is in its lifecycle
type SessionState int

const (
	SessionStateIdle SessionState = iota
	SessionStateStarting
	SessionStateStreaming
	SessionStateEnding
	SessionStateClosed
	SessionStateFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateIdle:
		return "idle"
	case SessionStateStarting:
		return "starting"
	case SessionStateStreaming:
		return "streaming"
	case SessionStateEnding:
		return "ending"
	case SessionStateClosed:
		return "closed"
	case SessionStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsLive reports whether the session still owns provider resources or may acquire them
func (s SessionState) IsLive() bool {
	return s == SessionStateStarting || s == SessionStateStreaming || s == SessionStateEnding
}

// Provider identifies the speech recognition backend of a session
type Provider string

const (
	ProviderGoogleV1 Provider = "google_v1"
	ProviderGoogleV2 Provider = "google_v2"
	ProviderGroq     Provider = "groq"
)

// IsGoogle reports whether the provider is one of the Google Speech-to-Text versions
func (p Provider) IsGoogle() bool {
	return p == ProviderGoogleV1 || p == ProviderGoogleV2
}

// AuthMethod carries the credentials a client supplied for the provider.
// ServiceAccount is only honored for Google.
type AuthMethod struct {
	APIKey         string
	ServiceAccount []byte
}

// HasServiceAccount reports whether service account material was supplied
func (a AuthMethod) HasServiceAccount() bool {
	return len(a.ServiceAccount) > 0
}

// StreamConfig describes one streaming recognition request
type StreamConfig struct {
	SessionID     string
	Provider      Provider
	Auth          AuthMethod
	LanguageCodes []string
	Model         string
	Prompt        string

	// Google v2 only
	ProjectID string
	Region    string

	// Google v1 decoding hints
	Encoding        string
	SampleRateHertz int

	FileType string
	FileName string

	// CompleteFile marks the initial content as a whole recording, the
	// session ends on its own once it has been submitted.
	CompleteFile bool
}

// Language returns the primary language code or an empty string
func (c StreamConfig) Language() string {
	if len(c.LanguageCodes) == 0 {
		return ""
	}
	return c.LanguageCodes[0]
}

// Validate checks the configuration before any provider resource is created
func (c StreamConfig) Validate() error {
	if strings.TrimSpace(c.SessionID) == "" {
		return NewValidationError("sessionId is required")
	}
	switch c.Provider {
	case ProviderGoogleV1, ProviderGoogleV2:
		if c.Auth.APIKey == "" && !c.Auth.HasServiceAccount() {
			return NewValidationError("API key or service account is required")
		}
	case ProviderGroq:
		if c.Auth.APIKey == "" {
			return NewValidationError("API key is required")
		}
	case "":
		return NewValidationError("api is required")
	default:
		return NewValidationError(fmt.Sprintf("unsupported api: %q", c.Provider))
	}
	return nil
}

// TranscriptKind distinguishes provisional from settled recognition output
type TranscriptKind int

const (
	TranscriptInterim TranscriptKind = iota
	TranscriptFinal
)

func (k TranscriptKind) String() string {
	if k == TranscriptFinal {
		return "final"
	}
	return "interim"
}

// TranscriptEvent is a unit of recognition output produced by an adapter.
// Sequence is assigned by the session when the event is emitted.
type TranscriptEvent struct {
	Kind       TranscriptKind
	Text       string
	Confidence *float64
	Stability  *float64
	Sequence   int64
}

// IsFinal reports whether the event is a final transcript
func (e TranscriptEvent) IsFinal() bool {
	return e.Kind == TranscriptFinal
}

// AudioChunk is raw audio plus its detected container format
type AudioChunk struct {
	Data   []byte
	Format AudioFormat
}

// TranscriptStatus is the outcome of a finished session
type TranscriptStatus string

const (
	TranscriptStatusCompleted TranscriptStatus = "completed"
	TranscriptStatusFailed    TranscriptStatus = "failed"
	TranscriptStatusAborted   TranscriptStatus = "aborted"
)

// TranscriptRecord is the archived result of one streaming session
type TranscriptRecord struct {
	SessionID    string           `json:"session_id" bson:"session_id"`
	ConnectionID string           `json:"connection_id" bson:"connection_id"`
	Provider     Provider         `json:"provider" bson:"provider"`
	Language     string           `json:"language,omitempty" bson:"language,omitempty"`
	Text         string           `json:"text" bson:"text"`
	FinalCount   int              `json:"final_count" bson:"final_count"`
	LastSequence int64            `json:"last_sequence" bson:"last_sequence"`
	Status       TranscriptStatus `json:"status" bson:"status"`
	Error        string           `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at" bson:"started_at"`
	EndedAt      time.Time        `json:"ended_at" bson:"ended_at"`
}

// Duration returns how long the session lasted
func (r TranscriptRecord) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
