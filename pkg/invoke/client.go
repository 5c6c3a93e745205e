// Package invoke executes individual function calls against resolved
// serverless endpoints, synchronously via /runsync or asynchronously via
// /run with status polling.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudburst-io/cloudburst/pkg/control"
	"github.com/cloudburst-io/cloudburst/pkg/invoke/protocol"
)

const (
	// DefaultPollInterval is the fixed delay between status polls.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxPolls bounds the polling loop independently of the HTTP
	// request timeout used for each individual call.
	DefaultMaxPolls = 150
)

// Client executes call envelopes against endpoint URLs.
type Client struct {
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	apiKey       string
	log          zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval overrides the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithMaxPolls overrides the poll budget.
func WithMaxPolls(n int) Option {
	return func(c *Client) { c.maxPolls = n }
}

// WithAPIKey sets the bearer token sent to endpoints.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates an execution client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
		maxPolls:     DefaultMaxPolls,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call executes the envelope synchronously: POST {url}/runsync returns the
// call result in one round trip.
func (c *Client) Call(ctx context.Context, url string, env *protocol.CallEnvelope) (*protocol.CallResult, error) {
	var result protocol.CallResult
	if err := c.post(ctx, url+"/runsync", env, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallAsync executes the envelope asynchronously: POST {url}/run returns a
// job id which is polled at GET {url}/status/{id} on a fixed interval until
// a terminal state or the poll budget is exhausted.
func (c *Client) CallAsync(ctx context.Context, url string, env *protocol.CallEnvelope) (*protocol.CallResult, error) {
	var job protocol.JobState
	if err := c.post(ctx, url+"/run", env, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, control.NewRemoteExecutionError("endpoint returned no job id", nil)
	}

	c.log.Debug().Str("endpoint", url).Str("job_id", job.ID).Msg("polling async job")

	for poll := 0; poll < c.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var state protocol.JobState
		if err := c.get(ctx, fmt.Sprintf("%s/status/%s", url, job.ID), &state); err != nil {
			return nil, err
		}
		if state.Status.Terminal() {
			if state.Status == protocol.JobStatusFailed {
				msg := "remote job failed"
				if state.Output != nil && state.Output.Error != "" {
					msg = state.Output.Error
				}
				return nil, control.NewRemoteExecutionError(msg, nil)
			}
			if state.Output == nil {
				return nil, control.NewRemoteExecutionError("completed job returned no output", nil)
			}
			return state.Output, nil
		}
	}

	return nil, control.NewRemoteExecutionError(
		fmt.Sprintf("job %s did not finish within %d polls", job.ID, c.maxPolls), nil)
}

func (c *Client) post(ctx context.Context, url string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode call envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return control.NewRemoteExecutionError("endpoint request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return control.NewRemoteExecutionError(
			fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, data), nil)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return control.NewRemoteExecutionError("failed to decode endpoint response", err)
		}
	}
	return nil
}
