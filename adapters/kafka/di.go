package kafka

import (
	"strings"

	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/config"
	"github.com/satriahrh/speechgate/internal/metrics"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repositories.TranscriptPublisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		var brokers []string
		for _, b := range cfg.KafkaBrokers {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		return New(Config{
			Brokers:      brokers,
			TopicInterim: cfg.KafkaTopicInterim,
			TopicFinal:   cfg.KafkaTopicFinal,
		}, do.MustInvoke[*metrics.Metrics](i), do.MustInvoke[*zap.Logger](i)), nil
	})
}
