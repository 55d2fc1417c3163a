package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.tavily.com"

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type searchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	Topic       string `json:"topic"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Result is a single ranked search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("tavily: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int { return e.StatusCode }

// Client calls the Tavily search API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     Getter
	tokenName  string
	topic      string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithTopic(topic string) Option {
	return func(c *Client) {
		if t := strings.TrimSpace(topic); t != "" {
			c.topic = t
		}
	}
}

func NewClient(getter Getter, tokenName string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("tavily: parameter getter must not be nil")
	}
	tokenName = strings.TrimSpace(tokenName)
	if tokenName == "" {
		return nil, errors.New("tavily: token parameter name must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		getter:     getter,
		tokenName:  tokenName,
		topic:      "general",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Warmup resolves the API key eagerly.
func (c *Client) Warmup(ctx context.Context) error {
	_, err := c.resolveAPIKey(ctx)
	return err
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		raw, err := c.getter.GetParameter(ctx, c.tokenName)
		if err != nil {
			c.keyErr = fmt.Errorf("tavily: fetch token: %w", err)
			return
		}
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "{") {
			var tp tokenPayload
			if err := json.Unmarshal([]byte(raw), &tp); err != nil {
				c.keyErr = fmt.Errorf("tavily: unmarshal token value as JSON: %w", err)
				return
			}
			raw = strings.TrimSpace(tp.Token)
		}
		if raw == "" {
			c.keyErr = errors.New("tavily: API token is empty")
			return
		}
		c.apiKey = raw
	})
	return c.apiKey, c.keyErr
}

// Search returns at most maxResults hits in provider rank order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("tavily: query must not be empty")
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(searchRequest{
		Query:       query,
		MaxResults:  maxResults,
		Topic:       c.topic,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	return out.Results, nil
}
