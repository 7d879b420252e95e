package websocket

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/satriahrh/speechgate/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to gateway message types
const (
	MessageTypeStartStream MessageType = "start_stream"
	MessageTypeAudioChunk  MessageType = "audio_chunk"
	MessageTypeEndStream   MessageType = "end_stream"
	MessageTypePing        MessageType = "ping"
)

// Gateway to client message types
const (
	MessageTypeConnected     MessageType = "connected"
	MessageTypeStart         MessageType = "start"
	MessageTypeTranscription MessageType = "transcription"
	MessageTypeWarning       MessageType = "warning"
	MessageTypeEnd           MessageType = "end"
	MessageTypeError         MessageType = "error"
	MessageTypePong          MessageType = "pong"
)

// ClientMessage is any JSON message sent by the browser
type ClientMessage struct {
	Type      MessageType `json:"type" validate:"required,oneof=start_stream audio_chunk end_stream ping"`
	SessionID string      `json:"sessionId" validate:"required_unless=Type ping,max=128"`

	// start_stream
	API             string          `json:"api" validate:"omitempty,oneof=google groq"`
	Version         string          `json:"version" validate:"omitempty,oneof=v1 v2"`
	APIKey          string          `json:"apiKey"`
	ServiceAccount  json.RawMessage `json:"serviceAccount"`
	LanguageCode    string          `json:"languageCode"`
	LanguageCodes   []string        `json:"languageCodes" validate:"omitempty,max=4"`
	Language        string          `json:"language"`
	Model           string          `json:"model"`
	Prompt          string          `json:"prompt"`
	FileType        string          `json:"fileType"`
	FileName        string          `json:"fileName"`
	ProjectID       string          `json:"projectId"`
	Region          string          `json:"region"`
	Encoding        string          `json:"encoding"`
	SampleRateHertz int             `json:"sampleRateHertz" validate:"omitempty,min=8000,max=48000"`

	// start_stream and audio_chunk, base64 audio
	Content string `json:"content" validate:"omitempty,base64"`
}

// StatusMessage carries connected, start, warning, end, error and pong
type StatusMessage struct {
	Type         MessageType `json:"type"`
	Message      string      `json:"message,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
	ConnectionID string      `json:"connectionId,omitempty"`
}

// TranscriptionMessage is one recognized fragment delivered to the client
type TranscriptionMessage struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"sessionId"`
	Sequence       int64       `json:"sequence"`
	IsFinal        bool        `json:"isFinal"`
	Transcript     string      `json:"transcript"`
	FullTranscript string      `json:"fullTranscript"`
	Confidence     *float64    `json:"confidence,omitempty"`
	Stability      *float64    `json:"stability,omitempty"`
}

func newStatusMessage(t MessageType, sessionID, message string) StatusMessage {
	return StatusMessage{Type: t, SessionID: sessionID, Message: message}
}

// MessageValidator parses and validates incoming messages
type MessageValidator struct {
	validate *validator.Validate
}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &MessageValidator{validate: v}
}

// Parse decodes a text frame. Failures are protocol errors; the returned
// message is still filled as far as decoding got so the caller can address
// the error to its session.
func (v *MessageValidator) Parse(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return &msg, entities.NewProtocolError("invalid JSON format", err)
	}

	msg.Content, msg.FileType = splitDataURL(msg.Content, msg.FileType)

	if err := v.validate.Struct(&msg); err != nil {
		return &msg, entities.NewProtocolError(describeValidation(err), nil)
	}
	return &msg, nil
}

func describeValidation(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return "invalid message"
	}

	fe := fieldErrors[0]
	switch fe.Tag() {
	case "required", "required_unless":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "base64":
		return fmt.Sprintf("%s must be base64 encoded", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s is out of range", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// splitDataURL strips a data:<mime>;base64, prefix and keeps the mime as file type hint
func splitDataURL(content, fileType string) (string, string) {
	if !strings.HasPrefix(content, "data:") {
		return content, fileType
	}
	header, payload, ok := strings.Cut(content, ",")
	if !ok {
		return content, fileType
	}
	if fileType == "" {
		mime, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
		fileType = mime
	}
	return payload, fileType
}

// Audio decodes the base64 content
func (m *ClientMessage) Audio() ([]byte, error) {
	if m.Content == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(m.Content)
	if err != nil {
		return nil, entities.NewProtocolError("content must be base64 encoded", err)
	}
	return data, nil
}

// Provider maps api and version onto a provider, empty for an unknown api
func (m *ClientMessage) Provider() entities.Provider {
	switch m.API {
	case "google":
		if m.Version == "v2" {
			return entities.ProviderGoogleV2
		}
		return entities.ProviderGoogleV1
	case "groq":
		return entities.ProviderGroq
	}
	return ""
}

// ServiceAccountJSON accepts the key as a JSON object or as a string holding one
func (m *ClientMessage) ServiceAccountJSON() ([]byte, error) {
	raw := bytes.TrimSpace(m.ServiceAccount)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, entities.NewProtocolError("serviceAccount is not valid JSON", err)
		}
		raw = bytes.TrimSpace([]byte(s))
		if len(raw) == 0 {
			return nil, nil
		}
	}

	if raw[0] != '{' || !json.Valid(raw) {
		return nil, entities.NewProtocolError("serviceAccount must be a JSON object", nil)
	}
	return append([]byte(nil), raw...), nil
}

// StreamConfig builds the session configuration of a start_stream message
func (m *ClientMessage) StreamConfig() (entities.StreamConfig, error) {
	serviceAccount, err := m.ServiceAccountJSON()
	if err != nil {
		return entities.StreamConfig{}, err
	}

	cfg := entities.StreamConfig{
		SessionID:       m.SessionID,
		Provider:        m.Provider(),
		Auth:            entities.AuthMethod{APIKey: strings.TrimSpace(m.APIKey), ServiceAccount: serviceAccount},
		Model:           m.Model,
		Prompt:          m.Prompt,
		ProjectID:       m.ProjectID,
		Region:          m.Region,
		Encoding:        m.Encoding,
		SampleRateHertz: m.SampleRateHertz,
		FileType:        m.FileType,
		FileName:        m.FileName,
		CompleteFile:    m.FileName != "",
	}

	primary := m.LanguageCode
	if cfg.Provider == entities.ProviderGroq && m.Language != "" {
		primary = m.Language
	}
	if primary != "" {
		cfg.LanguageCodes = append(cfg.LanguageCodes, primary)
	}
	for _, code := range m.LanguageCodes {
		if code != "" && code != primary {
			cfg.LanguageCodes = append(cfg.LanguageCodes, code)
		}
	}

	return cfg, nil
}
