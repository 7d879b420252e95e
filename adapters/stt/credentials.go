package stt

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"

	"github.com/satriahrh/speechgate/domain/entities"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// CredentialIssuer exchanges a service account key for usable credentials
type CredentialIssuer interface {
	Issue(ctx context.Context, serviceAccount []byte) (*auth.Credentials, error)
}

// GoogleCredentialIssuer issues credentials with the cloud-platform scope.
// The key material never leaves memory.
type GoogleCredentialIssuer struct{}

func NewGoogleCredentialIssuer() *GoogleCredentialIssuer {
	return &GoogleCredentialIssuer{}
}

func (g *GoogleCredentialIssuer) Issue(ctx context.Context, serviceAccount []byte) (*auth.Credentials, error) {
	if !json.Valid(serviceAccount) {
		return nil, entities.NewAuthError("service account is not valid JSON", nil)
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: serviceAccount,
		Scopes:          []string{cloudPlatformScope},
	})
	if err != nil {
		return nil, entities.NewAuthError("failed to load service account", err)
	}

	// Fetch a token up front so a bad key fails here instead of mid-stream
	if _, err := creds.Token(ctx); err != nil {
		return nil, entities.NewAuthError("failed to obtain access token", err)
	}

	return creds, nil
}

// ServiceAccountProjectID returns the project_id field of a service account key
func ServiceAccountProjectID(serviceAccount []byte) string {
	var key struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(serviceAccount, &key); err != nil {
		return ""
	}
	return key.ProjectID
}
