package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateClientToken(testSecret, "browser-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateClientToken() error = %v", err)
	}

	claims, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.ClientID != "browser-1" || claims.Role != "client" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	token, _ := GenerateClientToken(testSecret, "browser-1", time.Hour)
	defaulted, _ := GenerateClientToken(testSecret, "browser-1", -time.Hour)

	tests := []struct {
		name   string
		secret []byte
		token  string
	}{
		{"wrong secret", []byte("other"), token},
		{"garbage", testSecret, "not-a-token"},
		{"empty", testSecret, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.secret, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	// a non-positive ttl falls back to the default and stays valid
	if _, err := ValidateToken(testSecret, defaulted); err != nil {
		t.Errorf("default ttl token rejected: %v", err)
	}
}

func TestGenerateClientToken_EmptySecret(t *testing.T) {
	if _, err := GenerateClientToken(nil, "c", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		target  string
		want    string
		wantErr error
	}{
		{"bearer header", "Bearer abc", "/ws", "abc", nil},
		{"query parameter", "", "/ws?token=xyz", "xyz", nil},
		{"header wins", "Bearer abc", "/ws?token=xyz", "abc", nil},
		{"missing", "", "/ws", "", ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := TokenFromRequest(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("TokenFromRequest() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Basic dXNlcg==")
	if _, err := TokenFromRequest(req); err == nil {
		t.Error("expected error for non-bearer authorization")
	}
}
