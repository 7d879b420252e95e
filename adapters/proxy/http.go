// Package proxy forwards batch recognition requests to provider REST APIs
// and hands their answers back unchanged.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/satriahrh/speechgate/domain/entities"
	"github.com/satriahrh/speechgate/domain/repositories"
)

// maxResponseSize bounds what is buffered from a provider
const maxResponseSize = 32 << 20

// NewHTTPClient returns the client used for every outbound provider call.
// A non-empty proxyURL routes all requests through that HTTP proxy.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid outbound proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, header http.Header, body any) (*repositories.ProviderResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	header = header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Type", "application/json")
	return do(ctx, client, endpoint, header, payload)
}

func do(ctx context.Context, client *http.Client, endpoint string, header http.Header, payload []byte) (*repositories.ProviderResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header

	resp, err := client.Do(req)
	if err != nil {
		return nil, entities.NewProviderError("provider request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, entities.NewProviderError("failed to read provider response", err)
	}

	return &repositories.ProviderResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
