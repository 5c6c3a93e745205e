package httpendpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProviderClient talks to the provider's endpoint management API.
type ProviderClient struct {
	// baseURL is the root URL of the management API.
	baseURL string

	// apiKey authenticates management requests.
	apiKey string

	// httpClient performs the HTTP requests.
	httpClient *http.Client

	// log receives request-level diagnostics.
	log zerolog.Logger
}

// ClientOption customizes a ProviderClient.
type ClientOption func(*ProviderClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *ProviderClient) { c.httpClient = hc }
}

// WithAPIKey sets the management API key.
func WithAPIKey(key string) ClientOption {
	return func(c *ProviderClient) { c.apiKey = key }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *ProviderClient) { c.log = log }
}

// NewProviderClient creates a management API client for baseURL.
func NewProviderClient(baseURL string, opts ...ClientOption) *ProviderClient {
	c := &ProviderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpointRecord is the provider's view of one endpoint.
type endpointRecord struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// createRequest is the payload for endpoint creation.
type createRequest struct {
	Name         string                 `json:"name"`
	ResourceType string                 `json:"resource_type"`
	Config       map[string]interface{} `json:"config"`
}

// errEndpointNotFound reports a 404 from the management API.
var errEndpointNotFound = fmt.Errorf("endpoint not found")

// CreateEndpoint provisions a new endpoint and returns its record.
func (c *ProviderClient) CreateEndpoint(ctx context.Context, name, resourceType string, config map[string]interface{}) (*endpointRecord, error) {
	body, err := json.Marshal(createRequest{Name: name, ResourceType: resourceType, Config: config})
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	var rec endpointRecord
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/endpoints", body, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("provider returned endpoint without an id")
	}
	return &rec, nil
}

// GetEndpoint fetches one endpoint record, or errEndpointNotFound.
func (c *ProviderClient) GetEndpoint(ctx context.Context, endpointID string) (*endpointRecord, error) {
	var rec endpointRecord
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/endpoints/"+endpointID, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteEndpoint removes one endpoint. It returns errEndpointNotFound when
// the endpoint is already gone.
func (c *ProviderClient) DeleteEndpoint(ctx context.Context, endpointID string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL+"/endpoints/"+endpointID, nil, nil)
}

func (c *ProviderClient) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errEndpointNotFound
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Debug().
			Str("method", method).
			Str("url", url).
			Int("status", resp.StatusCode).
			Msg("provider request rejected")
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
