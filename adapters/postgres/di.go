package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"

	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/config"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*pgxpool.Pool, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return Connect(context.Background(), cfg.DatabaseURL)
	})
	do.Provide(injector, func(i do.Injector) (repositories.TranscriptRepository, error) {
		return NewTranscriptRepository(do.MustInvoke[*pgxpool.Pool](i)), nil
	})
}
