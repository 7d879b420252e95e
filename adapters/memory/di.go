package memory

import (
	"github.com/samber/do/v2"

	"github.com/satriahrh/speechgate/domain/repositories"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repositories.TranscriptRepository, error) {
		return NewTranscriptRepository(DefaultCapacity), nil
	})
}
