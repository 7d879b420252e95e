package websocket

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/adapters/stt"
	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/internal/metrics"
)

// recordingSink collects everything a session sends
type recordingSink struct {
	mu       sync.Mutex
	messages []any
}

func (r *recordingSink) SendJSON(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, v)
	return true
}

func (r *recordingSink) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.messages...)
}

// waitForType waits until a message of type t was sent and returns all messages
func (r *recordingSink) waitForType(tb testing.TB, t MessageType) []any {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := r.snapshot()
		for _, m := range msgs {
			if typeOf(m) == t {
				return msgs
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("no %s message, got %v", t, typesOf(r.snapshot()))
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	events   []entities.TranscriptEvent
	finished chan entities.TranscriptRecord
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(chan entities.TranscriptRecord, 16)}
}

func (o *recordingObserver) TranscriptEmitted(_ string, ev entities.TranscriptEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) SessionFinished(record entities.TranscriptRecord) {
	o.finished <- record
}

func (o *recordingObserver) waitFinished(t testing.TB) entities.TranscriptRecord {
	t.Helper()
	select {
	case rec := <-o.finished:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return entities.TranscriptRecord{}
	}
}

func typeOf(m any) MessageType {
	switch v := m.(type) {
	case StatusMessage:
		return v.Type
	case TranscriptionMessage:
		return v.Type
	}
	return ""
}

func typesOf(msgs []any) []MessageType {
	out := make([]MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = typeOf(m)
	}
	return out
}

func transcriptions(msgs []any) []TranscriptionMessage {
	var out []TranscriptionMessage
	for _, m := range msgs {
		if tm, ok := m.(TranscriptionMessage); ok {
			out = append(out, tm)
		}
	}
	return out
}

func interim(text string) entities.TranscriptEvent {
	return entities.TranscriptEvent{Kind: entities.TranscriptInterim, Text: text}
}

func final(text string) entities.TranscriptEvent {
	return entities.TranscriptEvent{Kind: entities.TranscriptFinal, Text: text}
}

func googleConfig(id string) entities.StreamConfig {
	return entities.StreamConfig{
		SessionID:     id,
		Provider:      entities.ProviderGoogleV1,
		Auth:          entities.AuthMethod{APIKey: "key"},
		LanguageCodes: []string{"en-US"},
	}
}

func newTestSession(id string, recognizer *stt.ScriptedRecognizer) (*StreamingSession, *recordingSink, *recordingObserver, *metrics.Metrics) {
	sink := &recordingSink{}
	observer := newRecordingObserver()
	m := metrics.New(prometheus.NewRegistry())
	s := NewStreamingSession(id, "conn-1", recognizer, sink, observer, m, zap.NewNop())
	return s, sink, observer, m
}

func TestStreamingSession_Lifecycle(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(),
		[]stt.ScriptStep{
			{Events: []entities.TranscriptEvent{interim("hello")}},
			{Events: []entities.TranscriptEvent{final("hello world")}},
		},
		stt.ScriptStep{Events: []entities.TranscriptEvent{final("hello world")}},
	)
	s, sink, observer, m := newTestSession("s1", recognizer)

	s.Start(googleConfig("s1"), []byte("chunk-0"))
	if err := s.Submit([]byte("chunk-1")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	s.End()

	msgs := sink.waitForType(t, MessageTypeEnd)
	want := []MessageType{MessageTypeStart, MessageTypeTranscription, MessageTypeTranscription, MessageTypeEnd}
	if got := typesOf(msgs); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}

	ts := transcriptions(msgs)
	if ts[0].IsFinal || ts[0].Sequence != 1 || ts[0].FullTranscript != "hello" {
		t.Errorf("interim = %+v", ts[0])
	}
	if !ts[1].IsFinal || ts[1].Sequence != 2 || ts[1].FullTranscript != "hello world" {
		t.Errorf("final = %+v", ts[1])
	}

	record := observer.waitFinished(t)
	if record.Status != entities.TranscriptStatusCompleted || record.Text != "hello world" || record.LastSequence != 2 {
		t.Errorf("record = %+v", record)
	}
	if s.State() != entities.SessionStateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if got := testutil.ToFloat64(m.DuplicatesSuppressed); got != 1 {
		t.Errorf("duplicates = %v, want 1", got)
	}

	chunks := recognizer.Streams()[0].Chunks()
	if len(chunks) != 2 || string(chunks[0]) != "chunk-0" || string(chunks[1]) != "chunk-1" {
		t.Errorf("provider received %q", chunks)
	}
}

func TestStreamingSession_MergesOverlappingFinals(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(),
		[]stt.ScriptStep{
			{Events: []entities.TranscriptEvent{final("hello")}},
			{Events: []entities.TranscriptEvent{interim("wor"), final("hello world")}},
			{Events: []entities.TranscriptEvent{final("world again")}},
		},
		stt.ScriptStep{},
	)
	s, sink, _, _ := newTestSession("s1", recognizer)

	s.Start(googleConfig("s1"), []byte("a"))
	s.Submit([]byte("b"))
	s.Submit([]byte("c"))
	s.End()

	ts := transcriptions(sink.waitForType(t, MessageTypeEnd))
	want := []struct {
		transcript string
		full       string
	}{
		{"hello", "hello"},
		{"wor", "hello wor"},
		{"world", "hello world"},
		{"again", "hello world again"},
	}
	if len(ts) != len(want) {
		t.Fatalf("got %d transcriptions, want %d", len(ts), len(want))
	}
	for i, w := range want {
		if ts[i].Transcript != w.transcript || ts[i].FullTranscript != w.full {
			t.Errorf("transcription %d = %q / %q, want %q / %q", i, ts[i].Transcript, ts[i].FullTranscript, w.transcript, w.full)
		}
		if ts[i].Sequence != int64(i+1) {
			t.Errorf("transcription %d sequence = %d", i, ts[i].Sequence)
		}
	}
}

func TestStreamingSession_ValidationFailure(t *testing.T) {
	tests := []struct {
		name    string
		cfg     entities.StreamConfig
		content []byte
		message string
	}{
		{
			name:    "google without credentials",
			cfg:     entities.StreamConfig{SessionID: "s1", Provider: entities.ProviderGoogleV1},
			content: []byte("audio"),
			message: "API key or service account is required",
		},
		{
			name:    "groq without api key",
			cfg:     entities.StreamConfig{SessionID: "s1", Provider: entities.ProviderGroq, Auth: entities.AuthMethod{ServiceAccount: []byte(`{}`)}},
			content: []byte("audio"),
			message: "API key is required",
		},
		{
			name:    "no audio",
			cfg:     googleConfig("s1"),
			message: "audio content is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{})
			s, sink, observer, _ := newTestSession("s1", recognizer)

			closed := 0
			s.onClosed = func(*StreamingSession) { closed++ }
			s.Start(tt.cfg, tt.content)

			msgs := sink.snapshot()
			if len(msgs) != 1 || typeOf(msgs[0]) != MessageTypeError {
				t.Fatalf("messages = %v, want a single error", typesOf(msgs))
			}
			if got := msgs[0].(StatusMessage).Message; got != tt.message {
				t.Errorf("error message = %q, want %q", got, tt.message)
			}
			if len(recognizer.Streams()) != 0 {
				t.Error("provider must not be contacted")
			}
			if s.State() != entities.SessionStateClosed || closed != 1 {
				t.Errorf("state = %s, onClosed calls = %d", s.State(), closed)
			}
			select {
			case rec := <-observer.finished:
				t.Errorf("unexpected archive of rejected session %+v", rec)
			default:
			}
			if err := s.Submit([]byte("late")); err == nil {
				t.Error("Submit after failure should error")
			}
		})
	}
}

func TestStreamingSession_OpenFailure(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{})
	recognizer.OpenErr = entities.NewAuthError("Speech API rejected the credentials", nil)
	s, sink, observer, _ := newTestSession("s1", recognizer)

	s.Start(googleConfig("s1"), []byte("audio"))

	msgs := sink.waitForType(t, MessageTypeError)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v, want only the error", typesOf(msgs))
	}
	if !strings.Contains(msgs[0].(StatusMessage).Message, "credentials") {
		t.Errorf("error message = %q", msgs[0].(StatusMessage).Message)
	}

	record := observer.waitFinished(t)
	if record.Status != entities.TranscriptStatusFailed || record.Error == "" {
		t.Errorf("record = %+v", record)
	}
}

func TestStreamingSession_ProviderErrorIsTerminal(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(),
		[]stt.ScriptStep{
			{Events: []entities.TranscriptEvent{interim("partial")}},
			{Err: entities.NewProviderError("Speech API error", nil)},
			{Events: []entities.TranscriptEvent{final("never delivered")}},
		},
		stt.ScriptStep{},
	)
	s, sink, _, m := newTestSession("s1", recognizer)

	s.Start(googleConfig("s1"), []byte("a"))
	s.Submit([]byte("b"))

	sink.waitForType(t, MessageTypeError)
	s.Submit([]byte("c"))
	s.End()
	time.Sleep(50 * time.Millisecond)

	want := []MessageType{MessageTypeStart, MessageTypeTranscription, MessageTypeError}
	if got := typesOf(sink.snapshot()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	if !recognizer.Streams()[0].Closed() {
		t.Error("provider stream should be closed after an error")
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("google_v1", "provider")); got != 1 {
		t.Errorf("provider errors = %v, want 1", got)
	}
}

func TestStreamingSession_CloseIsSilent(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{
		Events: []entities.TranscriptEvent{final("too late")},
	})
	s, sink, observer, _ := newTestSession("s1", recognizer)

	s.Start(googleConfig("s1"), []byte("a"))
	sink.waitForType(t, MessageTypeStart)

	s.Close()
	s.End()
	s.Close()

	record := observer.waitFinished(t)
	if record.Status != entities.TranscriptStatusAborted {
		t.Errorf("status = %s, want aborted", record.Status)
	}
	if !recognizer.Streams()[0].Closed() {
		t.Error("provider stream should be closed")
	}

	time.Sleep(50 * time.Millisecond)
	if got := typesOf(sink.snapshot()); len(got) != 1 {
		t.Errorf("messages after close = %v, want only start", got)
	}
}

func TestStreamingSession_CloseWhileStarting(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{})
	s, sink, _, _ := newTestSession("s1", recognizer)

	s.Start(googleConfig("s1"), []byte("a"))
	s.Close()

	time.Sleep(50 * time.Millisecond)
	for _, m := range sink.snapshot() {
		if typeOf(m) != MessageTypeStart {
			t.Errorf("unexpected %s after close", typeOf(m))
		}
	}
	for _, stream := range recognizer.Streams() {
		if !stream.Closed() {
			t.Error("stream opened after close must be closed")
		}
	}
}

func TestStreamingSession_CompleteFileEndsItself(t *testing.T) {
	recognizer := stt.NewMockSpeechToText(zap.NewNop())
	s, sink, _, _ := newTestSession("s1", recognizer)

	cfg := googleConfig("s1")
	cfg.FileName = "memo.wav"
	cfg.CompleteFile = true
	s.Start(cfg, make([]byte, 2000))

	ts := transcriptions(sink.waitForType(t, MessageTypeEnd))
	if len(ts) != 2 || !ts[1].IsFinal || ts[1].Transcript != "Halo" {
		t.Errorf("transcriptions = %+v", ts)
	}
}

func TestStreamingSession_Isolation(t *testing.T) {
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{})
	recognizer.OnChunk = func(index int, received []byte) stt.ScriptStep {
		return stt.ScriptStep{Events: []entities.TranscriptEvent{
			interim(fmt.Sprintf("%s part %d", received[:2], index)),
		}}
	}

	const sessions, chunks = 8, 20
	var wg sync.WaitGroup
	sinks := make([]*recordingSink, sessions)

	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%d", i)
		s, sink, _, _ := newTestSession(id, recognizer)
		sinks[i] = sink

		wg.Add(1)
		go func() {
			defer wg.Done()
			prefix := []byte(fmt.Sprintf("%02d", i))
			s.Start(googleConfig(id), prefix)
			for c := 1; c < chunks; c++ {
				s.Submit([]byte{'x'})
			}
			s.End()
		}()
	}
	wg.Wait()

	for i, sink := range sinks {
		ts := transcriptions(sink.waitForType(t, MessageTypeEnd))
		if len(ts) != chunks {
			t.Fatalf("session %d got %d transcriptions, want %d", i, len(ts), chunks)
		}
		prefix := fmt.Sprintf("%02d", i)
		for n, tm := range ts {
			if tm.Sequence != int64(n+1) {
				t.Errorf("session %d: sequence %d at position %d", i, tm.Sequence, n)
			}
			if tm.SessionID != fmt.Sprintf("s%d", i) || !strings.HasPrefix(tm.Transcript, prefix) {
				t.Errorf("session %d received foreign transcript %+v", i, tm)
			}
		}
	}
}

// slowSink delays every message like a client with a congested connection
type slowSink struct {
	recordingSink
	delay time.Duration
}

func (s *slowSink) SendJSON(v any) bool {
	time.Sleep(s.delay)
	return s.recordingSink.SendJSON(v)
}

func TestStreamingSession_SubmitNotBlockedBySlowClient(t *testing.T) {
	burst := make([]entities.TranscriptEvent, 200)
	for i := range burst {
		burst[i] = interim(fmt.Sprintf("word %d", i))
	}
	recognizer := stt.NewScriptedRecognizer(zap.NewNop(), nil, stt.ScriptStep{})
	recognizer.OnChunk = func(int, []byte) stt.ScriptStep { return stt.ScriptStep{Events: burst} }

	sink := &slowSink{delay: 2 * time.Millisecond}
	m := metrics.New(prometheus.NewRegistry())
	s := NewStreamingSession("s1", "conn-1", recognizer, sink, nil, m, zap.NewNop())

	s.Start(googleConfig("s1"), []byte("chunk-0"))
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != entities.SessionStateStreaming {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want streaming", s.State())
		}
		time.Sleep(time.Millisecond)
	}

	done := make(chan error, 1)
	go func() {
		for i := 1; i <= 50; i++ {
			if err := s.Submit([]byte(fmt.Sprintf("chunk-%d", i))); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit blocked while transcripts were backed up")
	}

	idle := make(chan struct{})
	go func() {
		s.IdleFor(time.Now())
		close(idle)
	}()
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("IdleFor blocked while transcripts were backed up")
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked while transcripts were backed up")
	}

	var last int64
	for _, tm := range transcriptions(sink.snapshot()) {
		if tm.Sequence <= last {
			t.Fatalf("sequence %d after %d", tm.Sequence, last)
		}
		last = tm.Sequence
	}
}
