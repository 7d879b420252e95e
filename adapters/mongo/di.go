package mongo

import (
	"context"

	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/config"
)

// RegisterDI provides the MongoDB client and the transcript repository backed by it
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewClient(context.Background(), cfg.MongoURI, cfg.MongoDatabase, do.MustInvoke[*zap.Logger](i))
	})
	do.Provide(injector, func(i do.Injector) (repositories.TranscriptRepository, error) {
		client := do.MustInvoke[*Client](i)
		repo := NewTranscriptRepository(client.Database)
		if err := repo.EnsureIndexes(context.Background()); err != nil {
			return nil, err
		}
		return repo, nil
	})
}
