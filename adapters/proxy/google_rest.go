package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/speechgate/adapters/stt"
	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

const DefaultGoogleV1BaseURL = "https://speech.googleapis.com"

// GoogleRESTConfig holds the endpoints and v2 defaults
type GoogleRESTConfig struct {
	V1BaseURL string
	// V2BaseURL replaces the regional https://{region}-speech.googleapis.com host
	V2BaseURL      string
	DefaultProject string
	DefaultRegion  string
}

// GoogleREST forwards recognize requests to Google Speech-to-Text
type GoogleREST struct {
	config GoogleRESTConfig
	client *http.Client
	issuer stt.CredentialIssuer
	logger *zap.Logger
}

func NewGoogleREST(config GoogleRESTConfig, client *http.Client, issuer stt.CredentialIssuer, logger *zap.Logger) *GoogleREST {
	if config.V1BaseURL == "" {
		config.V1BaseURL = DefaultGoogleV1BaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleREST{
		config: config,
		client: client,
		issuer: issuer,
		logger: logger,
	}
}

// Recognize authenticates with the service account when one is given and
// falls back to the API key once if the exchange fails.
func (g *GoogleREST) Recognize(ctx context.Context, req repositories.RecognizeRequest) (*repositories.ProviderResponse, error) {
	endpoint, err := g.endpoint(req)
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	bearer := false
	if len(req.ServiceAccount) > 0 {
		token, err := g.accessToken(ctx, req.ServiceAccount)
		switch {
		case err == nil:
			header.Set("Authorization", "Bearer "+token)
			bearer = true
		case req.APIKey == "":
			return nil, err
		default:
			g.logger.Warn("Service account authentication failed, falling back to API key", zap.Error(err))
		}
	}
	if !bearer {
		if req.APIKey == "" {
			return nil, entities.NewValidationError("API key is required")
		}
		endpoint += "?key=" + url.QueryEscape(req.APIKey)
	}

	g.logger.Debug("Forwarding recognize request",
		zap.String("version", req.Version),
		zap.Bool("serviceAccount", bearer))

	return postJSON(ctx, g.client, endpoint, header, req.Body)
}

// ProjectAndRegion resolves the v2 location, falling back to the configured defaults
func (g *GoogleREST) ProjectAndRegion(projectID, region string) (string, string) {
	if projectID == "" {
		projectID = g.config.DefaultProject
	}
	if region == "" {
		region = g.config.DefaultRegion
	}
	return projectID, region
}

func (g *GoogleREST) endpoint(req repositories.RecognizeRequest) (string, error) {
	switch req.Version {
	case "v1":
		return strings.TrimRight(g.config.V1BaseURL, "/") + "/v1/speech:recognize", nil
	case "v2":
		project, region := g.ProjectAndRegion(req.ProjectID, req.Region)
		base := g.config.V2BaseURL
		if base == "" {
			if region == "global" {
				base = DefaultGoogleV1BaseURL
			} else {
				base = fmt.Sprintf("https://%s-speech.googleapis.com", region)
			}
		}
		return fmt.Sprintf("%s/v2/projects/%s/locations/%s/recognizers/_:recognize",
			strings.TrimRight(base, "/"), url.PathEscape(project), url.PathEscape(region)), nil
	default:
		return "", entities.NewValidationError(fmt.Sprintf("Unsupported API version: %s", req.Version))
	}
}

func (g *GoogleREST) accessToken(ctx context.Context, serviceAccount []byte) (string, error) {
	creds, err := g.issuer.Issue(ctx, serviceAccount)
	if err != nil {
		return "", err
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return "", entities.NewAuthError("failed to obtain access token", err)
	}
	return token.Value, nil
}
