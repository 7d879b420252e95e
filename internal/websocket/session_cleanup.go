package websocket

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/internal/metrics"
)

// UploadSweeper removes upload files left behind longer than olderThan
type UploadSweeper interface {
	SweepStale(olderThan time.Duration) (int, error)
}

// CleanupConfig controls the janitor
type CleanupConfig struct {
	Interval           time.Duration
	SessionIdleTimeout time.Duration
	UploadGracePeriod  time.Duration
}

// SessionCleanupService handles background tasks for session management
type SessionCleanupService struct {
	hub      *Hub
	uploads  UploadSweeper
	config   CleanupConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionCleanupService creates a new session cleanup service. uploads may be nil.
func NewSessionCleanupService(hub *Hub, uploads UploadSweeper, config CleanupConfig, m *metrics.Metrics, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		hub:      hub,
		uploads:  uploads,
		config:   config,
		metrics:  m,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	s.wg.Add(1)
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("idleTimeout", s.config.SessionIdleTimeout))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("Session cleanup service stopped")
}

// cleanupLoop runs the cleanup process periodically
func (s *SessionCleanupService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup closes idle sessions and removes stale uploads
func (s *SessionCleanupService) runCleanup() {
	if s.config.SessionIdleTimeout > 0 {
		if reaped := s.hub.ReapIdle(s.config.SessionIdleTimeout); reaped > 0 {
			s.metrics.SessionsReaped.Add(float64(reaped))
			s.logger.Info("Closed idle sessions", zap.Int("count", reaped))
		}
	}

	if s.uploads == nil {
		return
	}
	swept, err := s.uploads.SweepStale(s.config.UploadGracePeriod)
	if swept > 0 {
		s.metrics.UploadsSwept.Add(float64(swept))
		s.logger.Info("Removed stale uploads", zap.Int("count", swept))
	}
	if err != nil {
		s.logger.Error("Failed to sweep uploads", zap.Error(err))
	}
}
