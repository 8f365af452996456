package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"NewsParser/internal/domain"
	"NewsParser/internal/scanner"
)

const errorBodyLimit = 1024

var cdata = strings.NewReplacer("<![CDATA[", "", "]]>", "")

// RSSScanner fetches a feed over HTTP and parses it with gofeed (RSS, Atom and JSON Feed).
type RSSScanner struct {
	client    *http.Client
	parser    *gofeed.Parser
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client; timeout bounds one feed fetch and defaults to 15s.
func NewRSSScanner(client *http.Client, timeout time.Duration, userAgent string, log *slog.Logger) *RSSScanner {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = "NewsParser/1.0"
	}
	return &RSSScanner{
		client:    client,
		parser:    gofeed.NewParser(),
		timeout:   timeout,
		userAgent: userAgent,
		logger:    log,
		now:       time.Now,
	}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

// Scan downloads the feed and converts every item into a FeedEntry.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.FeedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	feed, err := s.fetchFeed(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", req.FeedName, err)
	}

	entries := make([]domain.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, s.toEntry(item, req))
	}

	if s.logger != nil {
		s.logger.Debug("parsed feed", "feed", req.FeedName, "items", len(entries))
	}
	return entries, nil
}

func (s *RSSScanner) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("want 200, got %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func (s *RSSScanner) toEntry(item *gofeed.Item, req scanner.Request) domain.FeedEntry {
	entry := domain.FeedEntry{
		FeedName:    req.FeedName,
		FeedURL:     req.URL,
		Title:       cleanText(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Description: cleanText(item.Description),
		Content:     cleanText(item.Content),
	}

	switch {
	case item.PublishedParsed != nil:
		entry.PublishedAt = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		entry.PublishedAt = item.UpdatedParsed.UTC()
	default:
		entry.PublishedAt = s.now().UTC()
	}

	if item.Image != nil {
		entry.ImageURL = item.Image.URL
	}
	if entry.ImageURL == "" {
		entry.ImageURL = mediaThumbnail(item)
	}

	return entry
}

// mediaThumbnail reads <media:thumbnail url="..."> which BBC feeds use for images.
func mediaThumbnail(item *gofeed.Item) string {
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, ext := range media["thumbnail"] {
		if u := ext.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.TrimSpace(cdata.Replace(s))
}
