package domain

import "time"

// Feed is a configured RSS endpoint together with the scanner strategy that reads it.
type Feed struct {
	Name    string
	URL     string
	Scanner string
}

// FeedEntry is a raw item as it comes out of a feed, before extraction.
type FeedEntry struct {
	FeedName    string
	FeedURL     string
	Title       string
	Link        string
	Description string
	Content     string
	ImageURL    string
	PublishedAt time.Time
}

// Article is a stored, deduplicated news item. URL is the natural key.
type Article struct {
	ID          int64     `json:"id,omitempty"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArticleQuery describes a predicate search over stored articles.
// Zero-valued fields are ignored.
type ArticleQuery struct {
	Topic    string
	Keywords string
	Since    time.Time
	Limit    int
}
