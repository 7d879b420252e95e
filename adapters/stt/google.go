package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const (
	// per-message audio limits of the streaming APIs
	googleV1MaxChunkBytes = 25600
	googleV2MaxChunkBytes = 15360

	defaultLanguageCode = "en-US"

	apiKeyV2Warning = "API key authentication has limited support for Speech-to-Text v2 streaming; use a service account if recognition fails"
)

// GoogleConfig holds the defaults applied to Google streaming sessions
type GoogleConfig struct {
	DefaultProject string
	DefaultRegion  string
	V2Model        string
}

type googleDialFunc func(ctx context.Context, cfg entities.StreamConfig, opts []option.ClientOption) (recognizeConn, error)

// GoogleStreaming opens Speech-to-Text v1 and v2 streaming recognition channels
type GoogleStreaming struct {
	config GoogleConfig
	issuer CredentialIssuer
	logger *zap.Logger

	dialV1 googleDialFunc
	dialV2 googleDialFunc
}

func NewGoogleStreaming(config GoogleConfig, issuer CredentialIssuer, logger *zap.Logger) *GoogleStreaming {
	return &GoogleStreaming{
		config: config,
		issuer: issuer,
		logger: logger,
		dialV1: dialGoogleV1,
		dialV2: dialGoogleV2,
	}
}

func (g *GoogleStreaming) OpenStream(ctx context.Context, cfg entities.StreamConfig) (repositories.RecognitionStream, error) {
	logger := g.logger.With(zap.String("sessionID", cfg.SessionID), zap.String("provider", string(cfg.Provider)))

	opts, warnings, err := g.clientOptions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	dial, limit := g.dialV1, googleV1MaxChunkBytes
	if cfg.Provider == entities.ProviderGoogleV2 {
		dial, limit = g.dialV2, googleV2MaxChunkBytes
		g.applyV2Defaults(&cfg)
		if cfg.Region != "global" {
			opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:443", cfg.Region)))
		}
	}

	conn, err := dial(ctx, cfg, opts)
	if err != nil {
		logger.Error("Failed to open streaming recognition", zap.Error(err))
		return nil, classifyGRPCError(err)
	}

	logger.Info("Streaming recognition opened", zap.Int("warnings", len(warnings)))
	return newRecognizeStream(ctx, conn, limit, warnings, logger), nil
}

// clientOptions selects the authentication for a session. A service account
// is preferred; when issuing its credentials fails the API key is used once
// as a fallback, announced through a warning.
func (g *GoogleStreaming) clientOptions(ctx context.Context, cfg entities.StreamConfig, logger *zap.Logger) ([]option.ClientOption, []string, error) {
	var warnings []string

	if cfg.Auth.HasServiceAccount() {
		creds, err := g.issuer.Issue(ctx, cfg.Auth.ServiceAccount)
		if err == nil {
			return []option.ClientOption{option.WithAuthCredentials(creds)}, nil, nil
		}
		if cfg.Auth.APIKey == "" {
			logger.Warn("Service account authentication failed", zap.Error(err))
			if entities.KindOf(err) != entities.ErrorKindAuth {
				err = entities.NewAuthError("service account authentication failed", err)
			}
			return nil, nil, err
		}
		logger.Warn("Service account authentication failed, falling back to API key", zap.Error(err))
		warnings = append(warnings, "Service account authentication failed, falling back to API key: "+entities.ClientMessage(err))
	}

	if cfg.Provider == entities.ProviderGoogleV2 {
		warnings = append(warnings, apiKeyV2Warning)
	}

	return []option.ClientOption{option.WithAPIKey(cfg.Auth.APIKey)}, warnings, nil
}

func (g *GoogleStreaming) applyV2Defaults(cfg *entities.StreamConfig) {
	if cfg.ProjectID == "" && cfg.Auth.HasServiceAccount() {
		cfg.ProjectID = ServiceAccountProjectID(cfg.Auth.ServiceAccount)
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = g.config.DefaultProject
	}
	if cfg.Region == "" {
		cfg.Region = g.config.DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = g.config.V2Model
	}
}

func dialGoogleV1(ctx context.Context, cfg entities.StreamConfig, opts []option.ClientOption) (recognizeConn, error) {
	encoding, err := v1Encoding(cfg)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	languages := languageCodes(cfg)
	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(cfg.SampleRateHertz),
		LanguageCode:               languages[0],
		AlternativeLanguageCodes:   languages[1:],
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: true,
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig,
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &googleV1Conn{client: client, stream: stream}, nil
}

type googleV1Conn struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
}

func (c *googleV1Conn) SendAudio(data []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	})
}

func (c *googleV1Conn) CloseSend() error {
	return c.stream.CloseSend()
}

func (c *googleV1Conn) Recv() ([]recognitionResult, error) {
	resp, err := c.stream.Recv()
	if err != nil {
		return nil, err
	}
	if resp.GetError() != nil && resp.GetError().GetCode() != 0 {
		return nil, status.ErrorProto(resp.GetError())
	}

	results := make([]recognitionResult, 0, len(resp.GetResults()))
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		results = append(results, recognitionResult{
			Transcript: alt.GetTranscript(),
			IsFinal:    r.GetIsFinal(),
			Confidence: float32Ptr(alt.GetConfidence()),
			Stability:  float32Ptr(r.GetStability()),
		})
	}
	return results, nil
}

func (c *googleV1Conn) Close() error {
	return c.client.Close()
}

func languageCodes(cfg entities.StreamConfig) []string {
	codes := make([]string, 0, len(cfg.LanguageCodes))
	for _, code := range cfg.LanguageCodes {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		codes = append(codes, defaultLanguageCode)
	}
	return codes
}

// v1Encoding prefers an explicit encoding and otherwise derives one from the
// container hint. Unknown containers are left unspecified so the API reads
// the WAV or FLAC header.
func v1Encoding(cfg entities.StreamConfig) (speechpb.RecognitionConfig_AudioEncoding, error) {
	if cfg.Encoding != "" {
		encoding, err := getAudioEncoding(strings.ToUpper(cfg.Encoding))
		if err != nil {
			return encoding, entities.NewValidationError(err.Error())
		}
		return encoding, nil
	}

	for _, hint := range []string{cfg.FileType, cfg.FileName} {
		format, ok := entities.ParseAudioFormat(hint)
		if !ok {
			continue
		}
		switch format {
		case entities.AudioFormatFLAC:
			return speechpb.RecognitionConfig_FLAC, nil
		case entities.AudioFormatOGG:
			return speechpb.RecognitionConfig_OGG_OPUS, nil
		case entities.AudioFormatWebM:
			return speechpb.RecognitionConfig_WEBM_OPUS, nil
		case entities.AudioFormatMP3:
			return speechpb.RecognitionConfig_MP3, nil
		}
		break
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, nil
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "MP3":
		return speechpb.RecognitionConfig_MP3, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
