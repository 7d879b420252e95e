// Package groq talks to the Groq OpenAI-compatible audio transcription API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "whisper-large-v3"

	transcriptionsPath = "/audio/transcriptions"
	defaultFileName    = "audio"
)

// Config holds configuration for the Groq client
type Config struct {
	BaseURL string
	Model   string
}

// APIError is a non-2xx answer from Groq
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Sprintf("groq: status %d: %s", e.StatusCode, payload.Error.Message)
	}
	return fmt.Sprintf("groq: status %d", e.StatusCode)
}

// Client implements repositories.BatchTranscriber against Groq Whisper
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		logger: logger,
	}
}

// TranscribeAudio submits a whole recording and returns the recognized text
func (c *Client) TranscribeAudio(ctx context.Context, req repositories.BatchRequest) (*repositories.BatchResult, error) {
	resp, err := c.Forward(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: resp.Body}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, entities.NewAuthError("Groq rejected the API key", apiErr)
		}
		return nil, entities.NewProviderError("Groq transcription failed", apiErr)
	}

	var result struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, entities.NewProviderError("Groq returned an unreadable response", err)
	}

	return &repositories.BatchResult{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Duration: result.Duration,
	}, nil
}

// Forward sends the transcription request and returns the response as received
func (c *Client) Forward(ctx context.Context, req repositories.BatchRequest) (*repositories.ProviderResponse, error) {
	if req.APIKey == "" {
		return nil, entities.NewValidationError("API key is required")
	}
	if len(req.Audio) == 0 {
		return nil, entities.NewValidationError("audio content is required")
	}

	format := req.Format
	if format == "" {
		format = entities.ResolveAudioFormat(req.Audio, req.FileName)
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	body, contentType, err := buildMultipart(req, format, model)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+transcriptionsPath, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, entities.NewProviderError("Groq request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, entities.NewProviderError("failed to read Groq response", err)
	}

	c.logger.Debug("Groq transcription response",
		zap.Int("status", resp.StatusCode),
		zap.String("format", string(format)),
		zap.Int("audioBytes", len(req.Audio)),
	)

	return &repositories.ProviderResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

func buildMultipart(req repositories.BatchRequest, format entities.AudioFormat, model string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := req.FileName
	if name == "" {
		name = defaultFileName
	}
	name = strings.TrimSuffix(name, format.Extension()) + format.Extension()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", format.ContentType())

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	_ = writer.WriteField("model", model)
	_ = writer.WriteField("response_format", "json")
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
