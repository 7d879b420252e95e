package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/metrics"
)

const (
	defaultLanguageCode = "en-US"
	defaultV1Model      = "default"
)

// fields the gateway consumes itself and never forwards to Google
var gatewayFields = []string{"apiKey", "serviceAccount", "projectId", "region"}

// TranscriptionConfig holds defaults for batch requests
type TranscriptionConfig struct {
	DefaultProject string
	DefaultRegion  string
	V2Model        string
}

// SpeechRequest is a JSON recognize request as received from the browser
type SpeechRequest struct {
	Version string
	// Query parameters key, project and region
	QueryKey     string
	QueryProject string
	QueryRegion  string
	Body         map[string]any
}

// UploadRequest is a recognize request carrying an uploaded audio file
type UploadRequest struct {
	Version        string
	APIKey         string
	ServiceAccount []byte
	ProjectID      string
	Region         string
	Audio          []byte
	LanguageCode   string
	LanguageCodes  []string
	Model          string
	// RequestData is an optional JSON document whose config overrides the form fields
	RequestData string
}

// TranscriptionService forwards batch recognition requests to the providers
type TranscriptionService struct {
	config  TranscriptionConfig
	google  repositories.RecognizeForwarder
	groq    repositories.BatchForwarder
	azure   repositories.ShortAudioForwarder
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTranscriptionService creates a new transcription service
func NewTranscriptionService(
	config TranscriptionConfig,
	google repositories.RecognizeForwarder,
	groq repositories.BatchForwarder,
	azure repositories.ShortAudioForwarder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TranscriptionService {
	if config.V2Model == "" {
		config.V2Model = "chirp"
	}
	return &TranscriptionService{
		config:  config,
		google:  google,
		groq:    groq,
		azure:   azure,
		metrics: m,
		logger:  logger,
	}
}

// Recognize forwards a JSON recognize request. The body apiKey wins over the key query parameter.
func (s *TranscriptionService) Recognize(ctx context.Context, req SpeechRequest) (*repositories.ProviderResponse, error) {
	if err := checkVersion(req.Version); err != nil {
		return nil, err
	}

	body := req.Body
	if body == nil {
		body = map[string]any{}
	}
	apiKey := req.QueryKey
	if key, ok := body["apiKey"].(string); ok && key != "" {
		apiKey = key
	}
	serviceAccount, err := serviceAccountBytes(body["serviceAccount"])
	if err != nil {
		return nil, err
	}
	if apiKey == "" && len(serviceAccount) == 0 {
		return nil, entities.NewValidationError("API key is required")
	}

	project, region := s.location(req.QueryProject, req.QueryRegion, body)

	var payload any
	if req.Version == "v1" {
		payload = stripGatewayFields(body)
	} else {
		payload = s.v2Body(body)
	}

	return s.recognize(ctx, repositories.RecognizeRequest{
		Version:        req.Version,
		APIKey:         apiKey,
		ServiceAccount: serviceAccount,
		ProjectID:      project,
		Region:         region,
		Body:           payload,
	})
}

// RecognizeUpload builds a recognize request around an uploaded recording
func (s *TranscriptionService) RecognizeUpload(ctx context.Context, req UploadRequest) (*repositories.ProviderResponse, error) {
	if err := checkVersion(req.Version); err != nil {
		return nil, err
	}
	if req.APIKey == "" && len(req.ServiceAccount) == 0 {
		return nil, entities.NewValidationError("API key is required")
	}
	if len(req.Audio) == 0 {
		return nil, entities.NewValidationError("No audio file uploaded")
	}

	content := base64.StdEncoding.EncodeToString(req.Audio)
	project, region := s.location("", "", map[string]any{"projectId": req.ProjectID, "region": req.Region})

	var payload map[string]any
	if req.Version == "v1" {
		payload = map[string]any{
			"config": map[string]any{
				"languageCode":               firstNonEmpty(req.LanguageCode, defaultLanguageCode),
				"model":                      firstNonEmpty(req.Model, defaultV1Model),
				"enableAutomaticPunctuation": true,
			},
			"audio": map[string]any{"content": content},
		}
	} else {
		var override map[string]any
		if req.RequestData != "" {
			var data struct {
				Config map[string]any `json:"config"`
			}
			if err := json.Unmarshal([]byte(req.RequestData), &data); err != nil {
				s.logger.Warn("Ignoring unreadable requestData", zap.Error(err))
			} else {
				override = data.Config
			}
		}

		languages := stringSlice(override["language_codes"])
		if len(languages) == 0 {
			languages = req.LanguageCodes
		}
		if len(languages) == 0 {
			languages = []string{firstNonEmpty(req.LanguageCode, defaultLanguageCode)}
		}
		model, _ := override["model"].(string)
		payload = v2Payload(languages, firstNonEmpty(model, req.Model, s.config.V2Model), content)
	}

	return s.recognize(ctx, repositories.RecognizeRequest{
		Version:        req.Version,
		APIKey:         req.APIKey,
		ServiceAccount: req.ServiceAccount,
		ProjectID:      project,
		Region:         region,
		Body:           payload,
	})
}

// TranscribeGroq forwards a whole recording to Groq Whisper
func (s *TranscriptionService) TranscribeGroq(ctx context.Context, req repositories.BatchRequest) (*repositories.ProviderResponse, error) {
	start := time.Now()
	resp, err := s.groq.Forward(ctx, req)
	s.observe(string(entities.ProviderGroq), start, resp, err)
	return resp, err
}

// TranscribeAzure forwards a short recording to Azure Speech
func (s *TranscriptionService) TranscribeAzure(ctx context.Context, req repositories.ShortAudioRequest) (*repositories.ProviderResponse, error) {
	start := time.Now()
	resp, err := s.azure.Transcribe(ctx, req)
	s.observe("azure", start, resp, err)
	return resp, err
}

func (s *TranscriptionService) recognize(ctx context.Context, req repositories.RecognizeRequest) (*repositories.ProviderResponse, error) {
	s.logger.Info("Forwarding recognize request",
		zap.String("version", req.Version),
		zap.String("projectID", req.ProjectID),
		zap.String("region", req.Region),
		zap.Bool("serviceAccount", len(req.ServiceAccount) > 0))

	start := time.Now()
	resp, err := s.google.Recognize(ctx, req)
	s.observe("google_"+req.Version, start, resp, err)
	if err == nil && resp.StatusCode != 200 {
		s.logger.Warn("Provider returned an error status",
			zap.String("version", req.Version),
			zap.Int("status", resp.StatusCode))
	}
	return resp, err
}

func (s *TranscriptionService) observe(provider string, start time.Time, resp *repositories.ProviderResponse, err error) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	s.metrics.RecordProxyRequest(provider, code, time.Since(start).Seconds())
}

// location resolves project and region as query, then body, then configured default
func (s *TranscriptionService) location(queryProject, queryRegion string, body map[string]any) (string, string) {
	bodyProject, _ := body["projectId"].(string)
	bodyRegion, _ := body["region"].(string)
	return firstNonEmpty(queryProject, bodyProject, s.config.DefaultProject),
		firstNonEmpty(queryRegion, bodyRegion, s.config.DefaultRegion)
}

// v2Body reshapes a loosely formed v2 request into the recognize schema
func (s *TranscriptionService) v2Body(body map[string]any) map[string]any {
	config, _ := body["config"].(map[string]any)

	languages := stringSlice(config["language_codes"])
	if len(languages) == 0 {
		code, _ := body["languageCode"].(string)
		languages = []string{firstNonEmpty(code, defaultLanguageCode)}
	}
	configModel, _ := config["model"].(string)
	bodyModel, _ := body["model"].(string)
	content, _ := body["content"].(string)

	return v2Payload(languages, firstNonEmpty(configModel, bodyModel, s.config.V2Model), content)
}

func v2Payload(languages []string, model, content string) map[string]any {
	return map[string]any{
		"config": map[string]any{
			"language_codes": languages,
			"model":          model,
			"features": map[string]any{
				"enable_automatic_punctuation": true,
			},
			"auto_decoding_config": map[string]any{},
		},
		"content": content,
	}
}

func checkVersion(version string) error {
	if version != "v1" && version != "v2" {
		return entities.NewValidationError(fmt.Sprintf("Unsupported API version: %s", version))
	}
	return nil
}

func stripGatewayFields(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	for _, k := range gatewayFields {
		delete(out, k)
	}
	return out
}

// serviceAccountBytes accepts a key given as a JSON object or as a string holding one
func serviceAccountBytes(v any) ([]byte, error) {
	switch sa := v.(type) {
	case nil:
		return nil, nil
	case string:
		if sa == "" {
			return nil, nil
		}
		if !json.Valid([]byte(sa)) {
			return nil, entities.NewValidationError("serviceAccount must be a JSON object")
		}
		return []byte(sa), nil
	case map[string]any:
		return json.Marshal(sa)
	default:
		return nil, entities.NewValidationError("serviceAccount must be a JSON object")
	}
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
