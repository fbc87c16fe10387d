// Package subgraph executes GraphQL queries against indexed query services.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/subgraph-volume/internal/circuitbreaker"
	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/ratelimit"
	"github.com/subgraph-volume/internal/retry"
)

const maxResponseBytes = 16 << 20

// Data is the "data" object of a GraphQL response keyed by top-level field
type Data map[string]json.RawMessage

// Decode unmarshals the value under key into v. It reports false when the key is
// missing or null.
func (d Data) Decode(key string, v interface{}) (bool, error) {
	raw, ok := d[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		shapeErr := apperrors.NewShapeError(key, "")
		shapeErr.Cause = err
		return false, shapeErr
	}
	return true, nil
}

// Executor runs a query document against an endpoint
type Executor interface {
	Query(ctx context.Context, endpoint, document string, variables map[string]interface{}) (Data, error)
}

// QueryError is returned when the service answered with GraphQL errors.
// Partial holds the data that came back alongside the errors, if any.
type QueryError struct {
	Endpoint string
	Messages []string
	Partial  Data
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query against %s failed: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// PartialData recovers the data payload carried by a failed query
func PartialData(err error) (Data, bool) {
	var qe *QueryError
	if stderrors.As(err, &qe) && qe.Partial != nil {
		return qe.Partial, true
	}
	return nil, false
}

// ClientConfig configures a Client
type ClientConfig struct {
	Timeout      time.Duration
	RPS          float64
	Burst        int
	MaxAttempts  int
	InitialDelay time.Duration
	HTTPClient   *http.Client
}

// DefaultClientConfig returns the configuration used when none is given
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:      30 * time.Second,
		RPS:          5,
		Burst:        5,
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
	}
}

// Client is an Executor speaking GraphQL over HTTP POST
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.EndpointLimiter
	breakers   *circuitbreaker.Registry
	retry      *retry.RetryConfig
}

var _ Executor = (*Client)(nil)

// NewClient creates a new subgraph client
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		retryCfg.InitialDelay = cfg.InitialDelay
	}
	retryCfg.ShouldRetry = apperrors.IsRetryable

	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.Counts = apperrors.IsRetryable

	return &Client{
		httpClient: httpClient,
		limiter:    ratelimit.NewEndpointLimiter(cfg.RPS, cfg.Burst),
		breakers:   circuitbreaker.NewRegistry(breakerCfg),
		retry:      retryCfg,
	}
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query executes document against endpoint. Transport failures and 5xx/429 answers
// are retried; GraphQL errors are returned as *QueryError.
func (c *Client) Query(ctx context.Context, endpoint, document string, variables map[string]interface{}) (Data, error) {
	if endpoint == "" {
		return nil, apperrors.NewInvalidParameterError("endpoint", "no subgraph endpoint configured")
	}

	body, err := json.Marshal(request{Query: document, Variables: variables})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode query", err)
	}

	breaker := c.breakers.Get(endpoint)

	var data Data
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx, endpoint); err != nil {
			return err
		}
		return breaker.Execute(ctx, func(ctx context.Context) error {
			var execErr error
			data, execErr = c.do(ctx, endpoint, body)
			return execErr
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) (Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("endpoint", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewTransportError(endpoint, err)
	}

	var parsed response
	parseErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		svcErr := apperrors.NewServiceError(endpoint, resp.StatusCode,
			fmt.Sprintf("status=%d, body=%s", resp.StatusCode, truncate(string(raw), 256)))
		// Some services send partial results alongside an error status
		if parseErr == nil {
			if partial := decodeData(parsed.Data); partial != nil {
				return nil, &QueryError{
					Endpoint: endpoint,
					Messages: errorMessages(parsed, svcErr.Message),
					Partial:  partial,
					Err:      svcErr,
				}
			}
		}
		return nil, svcErr
	}

	if parseErr != nil {
		return nil, apperrors.NewServiceError(endpoint, resp.StatusCode,
			fmt.Sprintf("failed to parse response: %v", parseErr))
	}

	data := decodeData(parsed.Data)
	if len(parsed.Errors) > 0 {
		messages := errorMessages(parsed, "")
		return nil, &QueryError{
			Endpoint: endpoint,
			Messages: messages,
			Partial:  data,
			Err:      apperrors.NewServiceError(endpoint, 0, strings.Join(messages, "; ")),
		}
	}
	if data == nil {
		return nil, apperrors.NewServiceError(endpoint, resp.StatusCode, "response carried no data")
	}
	return data, nil
}

func decodeData(raw json.RawMessage) Data {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

func errorMessages(parsed response, fallback string) []string {
	messages := make([]string, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		messages = append(messages, e.Message)
	}
	if len(messages) == 0 && fallback != "" {
		messages = append(messages, fallback)
	}
	return messages
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// BreakerStates exposes the per-endpoint circuit breaker states
func (c *Client) BreakerStates() map[string]circuitbreaker.State {
	return c.breakers.States()
}
