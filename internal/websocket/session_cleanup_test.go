package websocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/adapters/stt"
	"github.com/satriahrh/speechgate/internal/metrics"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	grace time.Duration
	err   error
}

func (f *fakeSweeper) SweepStale(olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.grace = olderThan
	return 2, f.err
}

func TestSessionCleanupService_RunCleanup(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{})
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(recognizer, nil, m, nil, zap.NewNop())

	sink := &recordingSink{}
	session := NewStreamingSession("idle", "conn-1", recognizer, sink, nil, m, zap.NewNop())
	session.onClosed = hub.removeSession
	hub.sessions["idle"] = session
	session.Start(googleConfig("idle"), []byte("a"))
	sink.waitForType(t, MessageTypeStart)

	sweeper := &fakeSweeper{err: errors.New("permission denied")}
	janitor := NewSessionCleanupService(hub, sweeper, CleanupConfig{
		Interval:           time.Hour,
		SessionIdleTimeout: time.Millisecond,
		UploadGracePeriod:  time.Minute,
	}, m, zap.NewNop())

	time.Sleep(10 * time.Millisecond)
	janitor.runCleanup()

	if hub.SessionCount() != 0 {
		t.Errorf("idle session still registered")
	}
	if got := testutil.ToFloat64(m.SessionsReaped); got != 1 {
		t.Errorf("sessions reaped = %v, want 1", got)
	}
	if sweeper.calls != 1 || sweeper.grace != time.Minute {
		t.Errorf("sweeper calls = %d grace = %s", sweeper.calls, sweeper.grace)
	}
	if got := testutil.ToFloat64(m.UploadsSwept); got != 2 {
		t.Errorf("uploads swept = %v, want 2", got)
	}
}

func TestSessionCleanupService_StartStop(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{}), nil, m, nil, zap.NewNop())
	sweeper := &fakeSweeper{}

	janitor := NewSessionCleanupService(hub, sweeper, CleanupConfig{
		Interval:           5 * time.Millisecond,
		SessionIdleTimeout: time.Minute,
	}, m, zap.NewNop())
	janitor.Start()

	waitUntil(t, func() bool {
		sweeper.mu.Lock()
		defer sweeper.mu.Unlock()
		return sweeper.calls > 0
	}, "periodic sweep")

	janitor.Stop()
	janitor.Stop()
}
