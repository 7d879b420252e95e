package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const azureRecognitionPath = "/speech/recognition/conversation/cognitiveservices/v1"

// AzureConfig holds the Azure Speech short-audio settings
type AzureConfig struct {
	// BaseURL replaces the regional https://{region}.stt.speech.microsoft.com host
	BaseURL       string
	DefaultRegion string
}

// Azure forwards short recordings to the Azure Speech REST API
type Azure struct {
	config AzureConfig
	client *http.Client
	logger *zap.Logger
}

func NewAzure(config AzureConfig, client *http.Client, logger *zap.Logger) *Azure {
	if client == nil {
		client = http.DefaultClient
	}
	return &Azure{config: config, client: client, logger: logger}
}

func (a *Azure) Transcribe(ctx context.Context, req repositories.ShortAudioRequest) (*repositories.ProviderResponse, error) {
	if req.APIKey == "" {
		return nil, entities.NewValidationError("API key is required")
	}
	if len(req.Audio) == 0 {
		return nil, entities.NewValidationError("audio content is required")
	}

	region := req.Region
	if region == "" {
		region = a.config.DefaultRegion
	}
	if region == "" {
		return nil, entities.NewValidationError("region is required")
	}
	base := a.config.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.stt.speech.microsoft.com", region)
	}

	language := req.Language
	if language == "" {
		language = "en-US"
	}
	format := req.Format
	if format == "" {
		format = "detailed"
	}
	query := url.Values{"language": {language}, "format": {format}}

	contentType := req.ContentType
	if contentType == "" {
		contentType = AudioContentType(req.Audio)
	}

	header := make(http.Header)
	header.Set("Ocp-Apim-Subscription-Key", req.APIKey)
	header.Set("Content-Type", contentType)
	header.Set("Accept", "application/json")

	a.logger.Debug("Forwarding Azure recognition request",
		zap.String("region", region),
		zap.String("contentType", contentType),
		zap.Int("audioBytes", len(req.Audio)))

	return do(ctx, a.client, strings.TrimRight(base, "/")+azureRecognitionPath+"?"+query.Encode(), header, req.Audio)
}

// AudioContentType detects the container and returns the content type Azure expects for it
func AudioContentType(audio []byte) string {
	mime := mimetype.Detect(audio)
	switch {
	case mime.Is("audio/wav"):
		return "audio/wav; codecs=audio/pcm; samplerate=16000"
	case mime.Is("audio/ogg"), mime.Is("application/ogg"):
		return "audio/ogg; codecs=opus"
	default:
		return mime.String()
	}
}
