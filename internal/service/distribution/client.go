package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/version"
)

const (
	// HealthPath is the health check endpoint.
	HealthPath = "/health"
	// CatalogPath lists the available deployments.
	CatalogPath = "/api/rules/list"
	// BundlePath serves the bundle.
	BundlePath = "/api/rules/package"

	// APIKeyHeader carries the static credential.
	APIKeyHeader = "X-API-Key"
	// ServerIDHeader tells the endpoint which host is pulling.
	ServerIDHeader = "X-Server-ID"

	// DefaultMaxBundleSize caps the bundle download.
	DefaultMaxBundleSize int64 = 256 << 20

	// maxJSONSize caps the health and catalog responses.
	maxJSONSize int64 = 1 << 20

	opHealth  = "health"
	opCatalog = "catalog"
	opBundle  = "bundle"
)

// Timeouts bounds each operation separately, reflecting the expected payload size.
type Timeouts struct {
	Health  time.Duration
	Catalog time.Duration
	Bundle  time.Duration
}

// DefaultTimeouts returns 10s for health, 30s for catalog and 60s for the bundle.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Health:  10 * time.Second,
		Catalog: 30 * time.Second,
		Bundle:  60 * time.Second,
	}
}

// HealthStatus is the decoded health check response.
type HealthStatus struct {
	// Status is the state reported by the endpoint, e.g. "healthy".
	Status string `json:"status"`
	// Version is the endpoint build, when reported.
	Version string `json:"version,omitempty"`
}

// Catalog is the decoded rules listing.
type Catalog struct {
	// Count is the number of deployments known to the endpoint.
	Count int `json:"count"`
}

// Bundle is a downloaded payload with its detected encoding.
type Bundle struct {
	// Data is the raw response body.
	Data []byte
	// Encoding is EncodingCompressedArchive for gzip payloads, EncodingUnknown otherwise.
	Encoding bundle.ContentEncoding
	// ContentType is the Content-Type header sent by the endpoint.
	ContentType string
}

// Client performs the calls to the distribution endpoint.
type Client struct {
	// baseURL is the parsed endpoint root.
	baseURL *url.URL
	// apiKey is attached to every request.
	apiKey string
	// serverID is attached to every request when not empty.
	serverID string
	// httpClient sends the requests.
	httpClient *http.Client
	// timeouts bounds each operation.
	timeouts Timeouts
	// maxBundleSize caps the bundle body.
	maxBundleSize int64
}

// Option configures client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeouts overrides the per-operation timeouts. Zero values keep the defaults.
func WithTimeouts(timeouts Timeouts) Option {
	return func(c *Client) {
		if timeouts.Health > 0 {
			c.timeouts.Health = timeouts.Health
		}

		if timeouts.Catalog > 0 {
			c.timeouts.Catalog = timeouts.Catalog
		}

		if timeouts.Bundle > 0 {
			c.timeouts.Bundle = timeouts.Bundle
		}
	}
}

// WithServerID sends the host identifier with every request.
func WithServerID(serverID string) Option {
	return func(c *Client) {
		c.serverID = strings.TrimSpace(serverID)
	}
}

// WithMaxBundleSize limits how many bytes a bundle download may return.
func WithMaxBundleSize(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBundleSize = limit
		}
	}
}

// New returns a Client for the endpoint at baseURL.
// A missing credential is a construction error, never a per-call one.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errAPIKeyRequired
	}

	parsed, err := url.ParseRequestURI(strings.TrimRight(baseURL, "/"))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%q: %w", baseURL, errBaseURLRequired)
	}

	client := &Client{
		baseURL:       parsed,
		apiKey:        apiKey,
		httpClient:    &http.Client{},
		timeouts:      DefaultTimeouts(),
		maxBundleSize: DefaultMaxBundleSize,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Health checks that the endpoint is up.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.getJSON(ctx, opHealth, HealthPath, c.timeouts.Health, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// Catalog fetches the rules listing.
func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	var catalog Catalog
	if err := c.getJSON(ctx, opCatalog, CatalogPath, c.timeouts.Catalog, &catalog); err != nil {
		return nil, err
	}

	return &catalog, nil
}

// Bundle downloads the bundle and tags it with the detected encoding.
func (c *Client) Bundle(ctx context.Context) (*Bundle, error) {
	callCtx, cancel := c.callContext(ctx, c.timeouts.Bundle)
	defer cancel()

	response, endpoint, err := c.get(callCtx, opBundle, BundlePath, "*/*")
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(response.Body, c.maxBundleSize+1))
	if err != nil {
		return nil, &TransportError{Op: opBundle, URL: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	if int64(len(data)) > c.maxBundleSize {
		return nil, &TransportError{
			Op:  opBundle,
			URL: endpoint,
			Err: fmt.Errorf("%d bytes: %w", c.maxBundleSize, errBundleTooLarge),
		}
	}

	return &Bundle{
		Data:        data,
		Encoding:    bundle.DetectEncoding(data),
		ContentType: response.Header.Get("Content-Type"),
	}, nil
}

// getJSON performs a bounded GET and decodes the JSON body into target.
func (c *Client) getJSON(ctx context.Context, op, endpointPath string, timeout time.Duration, target any) error {
	callCtx, cancel := c.callContext(ctx, timeout)
	defer cancel()

	response, endpoint, err := c.get(callCtx, op, endpointPath, "application/json")
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if err = json.NewDecoder(io.LimitReader(response.Body, maxJSONSize)).Decode(target); err != nil {
		return &TransportError{Op: op, URL: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

// get sends an authenticated GET and rejects non-2xx responses.
// On success the caller owns the response body.
func (c *Client) get(ctx context.Context, op, endpointPath, accept string) (*http.Response, string, error) {
	endpoint := c.endpoint(endpointPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, endpoint, &TransportError{Op: op, URL: endpoint, Err: err}
	}

	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", version.UserAgent())

	if c.serverID != "" {
		req.Header.Set(ServerIDHeader, c.serverID)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, endpoint, &TransportError{Op: op, URL: endpoint, Err: err}
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxJSONSize))
		_ = response.Body.Close()

		return nil, endpoint, &TransportError{
			Op:         op,
			URL:        endpoint,
			StatusCode: response.StatusCode,
			Err:        fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus),
		}
	}

	return response, endpoint, nil
}

// endpoint joins the base URL with an API path.
func (c *Client) endpoint(endpointPath string) string {
	resolved := *c.baseURL
	// Use path.Join to normalize duplicate slashes when composing the URL path.
	resolved.Path = path.Join(resolved.Path, endpointPath)

	return resolved.String()
}

// callContext returns a context with the given timeout if positive,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}
