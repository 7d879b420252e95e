package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cloud.google.com/go/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

var (
	_ repositories.StreamingRecognizer = &GoogleStreaming{}
	_ repositories.StreamingRecognizer = &GroqStreaming{}
	_ repositories.StreamingRecognizer = &ScriptedRecognizer{}
	_ repositories.StreamingRecognizer = &Router{}
	_ CredentialIssuer                 = &GoogleCredentialIssuer{}
)

type staticTokenProvider struct{}

func (staticTokenProvider) Token(context.Context) (*auth.Token, error) {
	return &auth.Token{Value: "token"}, nil
}

type fakeIssuer struct {
	err   error
	calls int
}

func (f *fakeIssuer) Issue(ctx context.Context, serviceAccount []byte) (*auth.Credentials, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return auth.NewCredentials(&auth.CredentialsOptions{TokenProvider: staticTokenProvider{}}), nil
}

type dialRecorder struct {
	calls int
	cfg   entities.StreamConfig
	opts  []option.ClientOption
	conn  *fakeConn
	err   error
}

func (d *dialRecorder) dial(ctx context.Context, cfg entities.StreamConfig, opts []option.ClientOption) (recognizeConn, error) {
	d.calls++
	d.cfg = cfg
	d.opts = opts
	if d.err != nil {
		return nil, d.err
	}
	d.conn = newFakeConn()
	return d.conn, nil
}

func newTestGoogle(issuer CredentialIssuer) (*GoogleStreaming, *dialRecorder, *dialRecorder) {
	g := NewGoogleStreaming(GoogleConfig{
		DefaultProject: "speech-to-text-proxy",
		DefaultRegion:  "us-central1",
		V2Model:        "long",
	}, issuer, zap.NewNop())

	v1, v2 := &dialRecorder{}, &dialRecorder{}
	g.dialV1 = v1.dial
	g.dialV2 = v2.dial
	return g, v1, v2
}

func warningsOf(t *testing.T, stream repositories.RecognitionStream, conn *fakeConn) []string {
	t.Helper()

	conn.responses <- recvItem{err: io.EOF}
	var warnings []string
	for _, ev := range collectEvents(t, stream.Events()) {
		if ev.Kind == repositories.StreamEventWarning {
			warnings = append(warnings, ev.Message)
		}
	}
	return warnings
}

func TestGoogleStreaming_ServiceAccount(t *testing.T) {
	issuer := &fakeIssuer{}
	g, v1, _ := newTestGoogle(issuer)

	stream, err := g.OpenStream(context.Background(), entities.StreamConfig{
		SessionID: "s1",
		Provider:  entities.ProviderGoogleV1,
		Auth:      entities.AuthMethod{ServiceAccount: []byte(`{"type":"service_account"}`)},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer stream.Close()

	if issuer.calls != 1 || v1.calls != 1 {
		t.Fatalf("issuer calls = %d, dial calls = %d", issuer.calls, v1.calls)
	}
	if warnings := warningsOf(t, stream, v1.conn); len(warnings) != 0 {
		t.Errorf("unexpected warnings %v", warnings)
	}
}

func TestGoogleStreaming_FallsBackToAPIKeyOnce(t *testing.T) {
	issuer := &fakeIssuer{err: entities.NewAuthError("failed to obtain access token", errors.New("invalid_grant"))}
	g, v1, _ := newTestGoogle(issuer)

	stream, err := g.OpenStream(context.Background(), entities.StreamConfig{
		SessionID: "s1",
		Provider:  entities.ProviderGoogleV1,
		Auth:      entities.AuthMethod{APIKey: "key", ServiceAccount: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer stream.Close()

	if issuer.calls != 1 {
		t.Errorf("issuer called %d times, want 1", issuer.calls)
	}
	warnings := warningsOf(t, stream, v1.conn)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "falling back to API key") {
		t.Errorf("warnings = %v, want a single fallback warning", warnings)
	}
}

func TestGoogleStreaming_ServiceAccountFailureWithoutAPIKey(t *testing.T) {
	issuer := &fakeIssuer{err: errors.New("metadata server unreachable")}
	g, v1, _ := newTestGoogle(issuer)

	_, err := g.OpenStream(context.Background(), entities.StreamConfig{
		SessionID: "s1",
		Provider:  entities.ProviderGoogleV2,
		Auth:      entities.AuthMethod{ServiceAccount: []byte(`{}`)},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := entities.KindOf(err); kind != entities.ErrorKindAuth {
		t.Errorf("KindOf() = %s, want auth", kind)
	}
	if v1.calls != 0 {
		t.Error("provider should not be dialed after auth failure")
	}
}

func TestGoogleStreaming_V2APIKeyWarnsAndAppliesDefaults(t *testing.T) {
	g, _, v2 := newTestGoogle(&fakeIssuer{})

	stream, err := g.OpenStream(context.Background(), entities.StreamConfig{
		SessionID: "s1",
		Provider:  entities.ProviderGoogleV2,
		Auth:      entities.AuthMethod{APIKey: "key"},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer stream.Close()

	if v2.cfg.ProjectID != "speech-to-text-proxy" || v2.cfg.Region != "us-central1" || v2.cfg.Model != "long" {
		t.Errorf("defaults not applied: %+v", v2.cfg)
	}
	if len(v2.opts) != 2 {
		t.Errorf("expected auth and regional endpoint options, got %d", len(v2.opts))
	}

	warnings := warningsOf(t, stream, v2.conn)
	if len(warnings) != 1 || warnings[0] != apiKeyV2Warning {
		t.Errorf("warnings = %v, want the v2 API key warning", warnings)
	}
}

func TestGoogleStreaming_V2ProjectFromServiceAccount(t *testing.T) {
	g, _, v2 := newTestGoogle(&fakeIssuer{})

	stream, err := g.OpenStream(context.Background(), entities.StreamConfig{
		SessionID: "s1",
		Provider:  entities.ProviderGoogleV2,
		Region:    "global",
		Auth:      entities.AuthMethod{ServiceAccount: []byte(`{"type":"service_account","project_id":"acme-stt"}`)},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer stream.Close()

	if v2.cfg.ProjectID != "acme-stt" {
		t.Errorf("ProjectID = %q, want acme-stt", v2.cfg.ProjectID)
	}
	if len(v2.opts) != 1 {
		t.Errorf("global region should not set an endpoint, got %d options", len(v2.opts))
	}
}

func TestGoogleStreaming_DialErrorIsClassified(t *testing.T) {
	g, v1, _ := newTestGoogle(&fakeIssuer{})
	v1.err = status.Error(codes.PermissionDenied, "API key not valid")

	_, err := g.OpenStream(context.Background(), entities.StreamConfig{
		SessionID: "s1",
		Provider:  entities.ProviderGoogleV1,
		Auth:      entities.AuthMethod{APIKey: "bad"},
	})
	if kind := entities.KindOf(err); kind != entities.ErrorKindAuth {
		t.Errorf("KindOf(%v) = %s, want auth", err, kind)
	}
}

func TestV1Encoding(t *testing.T) {
	tests := []struct {
		name    string
		cfg     entities.StreamConfig
		want    string
		wantErr bool
	}{
		{"explicit", entities.StreamConfig{Encoding: "linear16"}, "LINEAR16", false},
		{"explicit unknown", entities.StreamConfig{Encoding: "aac"}, "", true},
		{"webm mime", entities.StreamConfig{FileType: "audio/webm;codecs=opus"}, "WEBM_OPUS", false},
		{"flac file", entities.StreamConfig{FileName: "call.flac"}, "FLAC", false},
		{"wav left to header", entities.StreamConfig{FileType: "audio/wav"}, "ENCODING_UNSPECIFIED", false},
		{"no hint", entities.StreamConfig{}, "ENCODING_UNSPECIFIED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v1Encoding(tt.cfg)
			if tt.wantErr {
				if entities.KindOf(err) != entities.ErrorKindValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("v1Encoding() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("v1Encoding() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestServiceAccountProjectID(t *testing.T) {
	if got := ServiceAccountProjectID([]byte(`{"project_id":"p-1"}`)); got != "p-1" {
		t.Errorf("got %q", got)
	}
	if got := ServiceAccountProjectID([]byte(`not json`)); got != "" {
		t.Errorf("got %q for invalid input", got)
	}
}

func TestLanguageCodes(t *testing.T) {
	if got := languageCodes(entities.StreamConfig{}); len(got) != 1 || got[0] != "en-US" {
		t.Errorf("default = %v", got)
	}
	got := languageCodes(entities.StreamConfig{LanguageCodes: []string{" id-ID ", "", "en-US"}})
	if len(got) != 2 || got[0] != "id-ID" || got[1] != "en-US" {
		t.Errorf("languageCodes() = %v", got)
	}
}
