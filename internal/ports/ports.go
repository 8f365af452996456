package ports

import (
	"context"
	"time"

	"NewsParser/internal/domain"
)

// FeedSource lists the configured feeds and fetches raw entries for one of them.
type FeedSource interface {
	Feeds() []domain.Feed
	Fetch(ctx context.Context, feed domain.Feed) ([]domain.FeedEntry, error)
}

// ContentExtractor downloads an article page and returns its plain-text body.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// TopicClassifier maps entry text to a topic label of the fixed taxonomy.
type TopicClassifier interface {
	Classify(ctx context.Context, entry domain.FeedEntry) string
}

// ArticleRepository is the durable article collection.
type ArticleRepository interface {
	Ping(ctx context.Context) error
	ExistsByURL(ctx context.Context, url string) (bool, error)
	ExistsByTitle(ctx context.Context, title string) (bool, error)
	// Insert stores the article unless its URL is already present.
	// inserted is false when an existing row won.
	Insert(ctx context.Context, article domain.Article) (inserted bool, err error)
	Search(ctx context.Context, q domain.ArticleQuery) ([]domain.Article, error)
	GetByURL(ctx context.Context, url string) (domain.Article, error)
	Count(ctx context.Context) (int, error)
}

// Notifier pushes short operational messages to Telegram or other channels.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ChatRequest opens a chat session on the completion service.
type ChatRequest struct {
	System  string
	History []domain.Message
	Tools   []domain.ToolSpec
}

// GenerateOptions tunes a single non-streamed completion.
type GenerateOptions struct {
	Temperature     float32
	MaxOutputTokens int32
}

// ChatModel is the language-model completion service.
type ChatModel interface {
	StartChat(ctx context.Context, req ChatRequest) (ChatSession, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// ChatSession keeps the turns of one conversation.
type ChatSession interface {
	Send(ctx context.Context, turn domain.Turn) (CompletionStream, error)
	Close() error
}

// CompletionStream yields completions in order; Next returns io.EOF after the last one.
type CompletionStream interface {
	Next() (domain.Completion, error)
	Close() error
}

// Job is a unit of periodic work.
type Job func(ctx context.Context, fired time.Time)

// JobInfo describes a registered periodic job.
type JobInfo struct {
	ID       string
	Name     string
	Interval time.Duration
	NextRun  time.Time
}

// Scheduler drives named periodic jobs.
type Scheduler interface {
	Register(id, name string, interval time.Duration, job Job) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Jobs() []JobInfo
}
