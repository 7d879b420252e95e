package groq

import (
	"net/http"

	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/internal/config"
)

// RegisterDI provides the Groq client. It needs the outbound *http.Client.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewClient(Config{
			BaseURL: cfg.GroqBaseURL,
			Model:   cfg.GroqDefaultModel,
		}, do.MustInvoke[*http.Client](i), do.MustInvoke[*zap.Logger](i)), nil
	})
}
