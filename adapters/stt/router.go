package stt

import (
	"context"
	"fmt"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

// Router selects the streaming adapter for a session's provider
type Router struct {
	google repositories.StreamingRecognizer
	groq   repositories.StreamingRecognizer
}

func NewRouter(google, groq repositories.StreamingRecognizer) *Router {
	return &Router{google: google, groq: groq}
}

func (r *Router) OpenStream(ctx context.Context, cfg entities.StreamConfig) (repositories.RecognitionStream, error) {
	var recognizer repositories.StreamingRecognizer
	switch {
	case cfg.Provider.IsGoogle():
		recognizer = r.google
	case cfg.Provider == entities.ProviderGroq:
		recognizer = r.groq
	}
	if recognizer == nil {
		return nil, entities.NewValidationError(fmt.Sprintf("unsupported api: %q", cfg.Provider))
	}
	return recognizer.OpenStream(ctx, cfg)
}
