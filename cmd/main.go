package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/speechgate/adapters/groq"
	"github.com/satriahrh/speechgate/adapters/kafka"
	"github.com/satriahrh/speechgate/adapters/memory"
	mongoimpl "github.com/satriahrh/speechgate/adapters/mongo"
	"github.com/satriahrh/speechgate/adapters/postgres"
	"github.com/satriahrh/speechgate/adapters/proxy"
	"github.com/satriahrh/speechgate/adapters/stt"
	"github.com/satriahrh/speechgate/domain/repositories"
	"github.com/satriahrh/speechgate/internal/api"
	"github.com/satriahrh/speechgate/internal/config"
	"github.com/satriahrh/speechgate/internal/metrics"
	"github.com/satriahrh/speechgate/internal/websocket"
	"github.com/satriahrh/speechgate/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Config validation failed", zap.Error(err))
	}

	// Initialize logger
	logger, err := newLogger(cfg)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Failed to build logger", zap.Error(err), zap.String("level", cfg.LogLevel))
	}
	defer logger.Sync()

	injector := setupDI(cfg, logger)
	if err := run(cfg, injector, logger); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = level
	return zapConfig.Build()
}

func setupDI(cfg *config.Config, logger *zap.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	do.ProvideValue(injector, metrics.Default)

	proxy.RegisterDI(injector)
	groq.RegisterDI(injector)
	stt.RegisterDI(injector)
	kafka.RegisterDI(injector)

	switch cfg.TranscriptStore {
	case config.StoreMongo:
		mongoimpl.RegisterDI(injector)
	case config.StorePostgres:
		postgres.RegisterDI(injector)
	default:
		memory.RegisterDI(injector)
	}

	do.Provide(injector, func(i do.Injector) (*usecase.TranscriptArchive, error) {
		return usecase.NewTranscriptArchive(
			do.MustInvoke[repositories.TranscriptRepository](i),
			do.MustInvoke[repositories.TranscriptPublisher](i),
			logger,
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*usecase.TranscriptionService, error) {
		return usecase.NewTranscriptionService(usecase.TranscriptionConfig{
			DefaultProject: cfg.GoogleDefaultProject,
			DefaultRegion:  cfg.GoogleDefaultRegion,
			V2Model:        cfg.GoogleV2BatchModel,
		},
			do.MustInvoke[repositories.RecognizeForwarder](i),
			do.MustInvoke[*groq.Client](i),
			do.MustInvoke[repositories.ShortAudioForwarder](i),
			metrics.Default,
			logger,
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*websocket.Hub, error) {
		var secret []byte
		if cfg.JWTSecret != "" {
			secret = []byte(cfg.JWTSecret)
		}
		return websocket.NewHub(
			do.MustInvoke[repositories.StreamingRecognizer](i),
			do.MustInvoke[*usecase.TranscriptArchive](i),
			metrics.Default,
			secret,
			logger,
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*api.UploadStore, error) {
		return api.NewUploadStore(cfg.UploadsDir)
	})

	return injector
}

func run(cfg *config.Config, injector do.Injector, logger *zap.Logger) error {
	hub, err := do.Invoke[*websocket.Hub](injector)
	if err != nil {
		return err
	}
	transcription, err := do.Invoke[*usecase.TranscriptionService](injector)
	if err != nil {
		return err
	}
	archive := do.MustInvoke[*usecase.TranscriptArchive](injector)
	uploads, err := do.Invoke[*api.UploadStore](injector)
	if err != nil {
		return err
	}
	defer closeStores(cfg, injector, archive, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("50M"))

	api.InitRoutes(e, api.Dependencies{
		Hub:           hub,
		Transcription: transcription,
		Archive:       archive,
		Uploads:       uploads,
		ProxyURL:      cfg.OutboundProxyURL,
		StaticDir:     cfg.StaticDir,
		Logger:        logger,
	})

	janitor := websocket.NewSessionCleanupService(hub, uploads, websocket.CleanupConfig{
		Interval:           cfg.JanitorInterval,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
		UploadGracePeriod:  cfg.UploadGracePeriod,
	}, metrics.Default, logger)
	janitor.Start()
	defer janitor.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Server started", zap.String("port", cfg.Port), zap.String("transcriptStore", cfg.TranscriptStore))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func closeStores(cfg *config.Config, injector do.Injector, archive *usecase.TranscriptArchive, logger *zap.Logger) {
	if err := archive.Close(); err != nil {
		logger.Error("Failed to close transcript publisher", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	switch cfg.TranscriptStore {
	case config.StoreMongo:
		if client, err := do.Invoke[*mongoimpl.Client](injector); err == nil {
			client.Close(ctx)
		}
	case config.StorePostgres:
		if pool, err := do.Invoke[*pgxpool.Pool](injector); err == nil {
			pool.Close()
		}
	}
}

// requestLogger writes one zap line per HTTP request
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remoteIP", v.RemoteIP),
			}
			if v.Error != nil {
				logger.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("Request", fields...)
			return nil
		},
	})
}
