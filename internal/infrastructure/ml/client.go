package ml

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
	"NewsParser/internal/topic"
)

// Client talks to an external ML service for topic classification.
// Any failure or unknown label falls back to the keyword taxonomy.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	fallback ports.TopicClassifier
	logger   *slog.Logger
}

var _ ports.TopicClassifier = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 5 * time.Second},
		fallback: topic.Keyword{},
		logger:   log,
	}
}

// Classify sends the entry text for topic detection.
func (c *Client) Classify(ctx context.Context, entry domain.FeedEntry) string {
	if c.http == nil || c.endpoint == "" {
		return c.fallback.Classify(ctx, entry)
	}

	payload := map[string]any{
		"title":       entry.Title,
		"description": entry.Description,
		"feed_url":    entry.FeedURL,
		"labels":      topic.Topics(),
	}

	var resp struct {
		Topic string `json:"topic"`
	}
	if err := c.post(ctx, "/classify", payload, &resp); err != nil {
		c.logger.Warn("remote classifier failed, using keywords", "err", err)
		return c.fallback.Classify(ctx, entry)
	}

	label := strings.ToLower(strings.TrimSpace(resp.Topic))
	if !slices.Contains(topic.Topics(), label) {
		c.logger.Debug("remote classifier returned unknown label", "label", resp.Topic)
		return c.fallback.Classify(ctx, entry)
	}
	return label
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
