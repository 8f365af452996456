package parser

import (
	"context"
	"fmt"
	"log/slog"

	"NewsParser/internal/config"
	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
	"NewsParser/internal/scanner"
)

// StrategySource implements FeedSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	feeds    []domain.Feed
	logger   *slog.Logger
}

var _ ports.FeedSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined feeds.
func NewStrategySource(reg *scanner.Registry, feeds []config.FeedConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		feeds:    toDomainFeeds(feeds),
		logger:   log,
	}
}

// Feeds returns the configured feed list in order.
func (s *StrategySource) Feeds() []domain.Feed {
	out := make([]domain.Feed, len(s.feeds))
	copy(out, s.feeds)
	return out
}

// Fetch resolves the feed's scanner and reads its entries.
func (s *StrategySource) Fetch(ctx context.Context, feed domain.Feed) ([]domain.FeedEntry, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.debug("fetch feed", "feed", feed.Name, "scanner", feed.Scanner)
	strategy, err := s.registry.Resolve(feed.Scanner)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feed.Name, err)
	}

	entries, err := strategy.Scan(ctx, scanner.Request{FeedName: feed.Name, URL: feed.URL})
	if err != nil {
		return nil, fmt.Errorf("scan feed %s: %w", feed.Name, err)
	}

	s.debug("feed produced entries", "feed", feed.Name, "count", len(entries))
	return entries, nil
}

func toDomainFeeds(cfg []config.FeedConfig) []domain.Feed {
	feeds := make([]domain.Feed, 0, len(cfg))
	for _, f := range cfg {
		name := f.Scanner
		if name == "" {
			name = "rss"
		}
		feeds = append(feeds, domain.Feed{
			Name:    f.Name,
			URL:     f.URL,
			Scanner: name,
		})
	}
	return feeds
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
