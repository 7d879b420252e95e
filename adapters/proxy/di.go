package proxy

import (
	"net/http"

	di "github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/adapters/stt"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/config"
)

// RegisterDI provides the outbound HTTP client and the REST forwarders
func RegisterDI(injector di.Injector) {
	di.Provide(injector, func(i di.Injector) (*http.Client, error) {
		cfg := di.MustInvoke[*config.Config](i)
		return NewHTTPClient(cfg.OutboundProxyURL, cfg.HTTPTimeout)
	})
	di.Provide(injector, func(i di.Injector) (repositories.RecognizeForwarder, error) {
		cfg := di.MustInvoke[*config.Config](i)
		return NewGoogleREST(GoogleRESTConfig{
			DefaultProject: cfg.GoogleDefaultProject,
			DefaultRegion:  cfg.GoogleDefaultRegion,
		}, di.MustInvoke[*http.Client](i), stt.NewGoogleCredentialIssuer(), di.MustInvoke[*zap.Logger](i)), nil
	})
	di.Provide(injector, func(i di.Injector) (repositories.ShortAudioForwarder, error) {
		cfg := di.MustInvoke[*config.Config](i)
		return NewAzure(AzureConfig{
			DefaultRegion: cfg.AzureDefaultRegion,
		}, di.MustInvoke[*http.Client](i), di.MustInvoke[*zap.Logger](i)), nil
	})
}
