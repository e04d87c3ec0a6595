package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics
const maxErrorBody = 1024

// HTTPError reports a non-2xx answer from a provider
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, zero if absent
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("provider %s returned HTTP %d", e.Provider, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether a retry could plausibly succeed
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPProvider talks to a LibreTranslate-style JSON endpoint
type HTTPProvider struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

type httpRequestBody struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type httpResponseBody struct {
	TranslatedText string `json:"translatedText"`
}

// NewHTTPProvider creates a provider posting to endpoint
func NewHTTPProvider(name, endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string {
	return p.name
}

// Translate posts req and decodes the translated text
func (p *HTTPProvider) Translate(ctx context.Context, req Request) (string, error) {
	source := req.Source
	if source == "" {
		source = "auto"
	}
	payload, err := json.Marshal(httpRequestBody{
		Q:      req.Text,
		Source: source,
		Target: req.Target,
		Format: "text",
		APIKey: p.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider %s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &HTTPError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var decoded httpResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode provider %s response: %w", p.name, err)
	}
	return decoded.TranslatedText, nil
}

// parseRetryAfter accepts delta-seconds only; HTTP dates are ignored
func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
