package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
	"NewsParser/internal/topic"
)

// ErrInvalidEntry marks feed entries that cannot become an article.
var ErrInvalidEntry = errors.New("invalid feed entry")

// ArticleExtractor turns raw feed entries into articles.
type ArticleExtractor struct {
	content    ports.ContentExtractor
	classifier ports.TopicClassifier
}

// NewArticleExtractor wires page extraction and classification. content may be
// nil to keep feed summaries only; classifier defaults to the keyword taxonomy.
func NewArticleExtractor(content ports.ContentExtractor, classifier ports.TopicClassifier) *ArticleExtractor {
	if classifier == nil {
		classifier = topic.Keyword{}
	}
	return &ArticleExtractor{content: content, classifier: classifier}
}

// Prepare derives the canonical URL, title, timestamp and topic of an entry without network access.
func (e *ArticleExtractor) Prepare(ctx context.Context, entry domain.FeedEntry) (domain.Article, error) {
	link, err := CanonicalURL(entry.Link)
	if err != nil {
		return domain.Article{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return domain.Article{}, fmt.Errorf("%w: entry %s has no title", ErrInvalidEntry, link)
	}

	return domain.Article{
		URL:         link,
		Title:       title,
		Summary:     strings.TrimSpace(entry.Description),
		Content:     strings.TrimSpace(entry.Content),
		Topic:       e.classifier.Classify(ctx, entry),
		ImageURL:    entry.ImageURL,
		PublishedAt: entry.PublishedAt.UTC(),
	}, nil
}

// FillContent downloads the full text. On failure the article keeps what the feed provided.
func (e *ArticleExtractor) FillContent(ctx context.Context, article *domain.Article) error {
	if e.content == nil {
		return nil
	}
	text, err := e.content.Extract(ctx, article.URL)
	if err != nil {
		return err
	}
	article.Content = text
	return nil
}

// CanonicalURL trims the link, drops the fragment and tracking parameters
// (utm_*, at_*) so the same story reached through different feeds dedupes.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty link")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("link %q is not http(s)", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("link %q has no host", raw)
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if strings.HasPrefix(lower, "utm_") || strings.HasPrefix(lower, "at_") {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
