package subgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"epochsync/internal/fetcher"
)

// APIKeyPlaceholder is replaced with the graph API key in endpoint URLs.
const APIKeyPlaceholder = "[api-key]"

// Query is a GraphQL document plus its default variables.
type Query struct {
	Text      string         `mapstructure:"query"`
	Variables map[string]any `mapstructure:"variables"`
}

// With returns the default variables overlaid with vars.
func (q Query) With(vars map[string]any) map[string]any {
	out := make(map[string]any, len(q.Variables)+len(vars))
	for k, v := range q.Variables {
		out[k] = v
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client posts GraphQL queries to a list of equivalent endpoints.
type Client struct {
	http      *resty.Client
	endpoints []string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient builds a client; apiKey fills the [api-key] placeholder of every endpoint.
func NewClient(endpoints []string, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		resolved = append(resolved, ResolveEndpoint(e, apiKey))
	}
	http := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &Client{http: http, endpoints: resolved, timeout: timeout, logger: logger}
}

// ResolveEndpoint substitutes the API key placeholder.
func ResolveEndpoint(endpoint, apiKey string) string {
	if apiKey == "" {
		return endpoint
	}
	return strings.ReplaceAll(endpoint, APIKeyPlaceholder, apiKey)
}

// Fetch runs q with vars and decodes data.<field> into out.
func (c *Client) Fetch(ctx context.Context, q Query, vars map[string]any, field string, out any) error {
	raw, err := fetcher.FirstSuccess(ctx, c.logger.With(zap.String("field", field)), c.endpoints, c.timeout,
		func(ctx context.Context, endpoint string) (json.RawMessage, error) {
			return c.post(ctx, endpoint, q, vars, field)
		})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", field, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, q Query, vars map[string]any, field string) (json.RawMessage, error) {
	if strings.Contains(endpoint, APIKeyPlaceholder) {
		return nil, fmt.Errorf("endpoint requires an api key")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{Query: q.Text, Variables: q.With(vars)}).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("graphql request returned status %d", resp.StatusCode())
	}

	var result response
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	raw, ok := result.Data[field]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", field)
	}
	return raw, nil
}
