package stt

import (
	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/adapters/groq"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/config"
)

// RegisterDI provides the streaming recognizer, the scripted one when STT_MOCK is set
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repositories.StreamingRecognizer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*zap.Logger](i)
		if cfg.STTMock {
			logger.Warn("Using scripted speech recognizer, no provider will be contacted")
			return NewMockSpeechToText(logger), nil
		}

		google := NewGoogleStreaming(GoogleConfig{
			DefaultProject: cfg.GoogleDefaultProject,
			DefaultRegion:  cfg.GoogleDefaultRegion,
			V2Model:        cfg.GoogleV2StreamingModel,
		}, NewGoogleCredentialIssuer(), logger)

		groqStreaming := NewGroqStreaming(do.MustInvoke[*groq.Client](i), GroqConfig{
			Model:             cfg.GroqDefaultModel,
			MinSubmitInterval: cfg.GroqMinSubmitInterval,
		}, logger)

		return NewRouter(google, groqStreaming), nil
	})
}
