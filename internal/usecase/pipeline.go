package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"NewsParser/internal/domain"
	"NewsParser/internal/metrics"
	"NewsParser/internal/ports"
)

// ErrNoFeeds is returned when a run starts without configured feeds.
var ErrNoFeeds = errors.New("no feeds configured")

// progressCap keeps a running task below 100 until it is marked completed.
const progressCap = 99

// ProgressFunc receives the updates of one run in emission order.
type ProgressFunc func(domain.ProgressUpdate)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, report ProgressFunc) (domain.TaskResult, error)
}

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Source       ports.FeedSource
	Repository   ports.ArticleRepository
	Extractor    *ArticleExtractor
	FetchContent bool
	Logger       *slog.Logger
}

// Pipeline implements the feed-ingestion workflow.
type Pipeline struct {
	source       ports.FeedSource
	repository   ports.ArticleRepository
	extractor    *ArticleExtractor
	fetchContent bool
	logger       *slog.Logger
}

var _ Runner = (*Pipeline)(nil)

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	extractor := deps.Extractor
	if extractor == nil {
		extractor = NewArticleExtractor(nil, nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		source:       deps.Source,
		repository:   deps.Repository,
		extractor:    extractor,
		fetchContent: deps.FetchContent,
		logger:       logger,
	}
}

// Run walks every configured feed once. Feed and article failures are
// counted in the result; only an unreachable store, an empty feed list or a
// cancelled context abort the run.
func (p *Pipeline) Run(ctx context.Context, report ProgressFunc) (domain.TaskResult, error) {
	if report == nil {
		report = func(domain.ProgressUpdate) {}
	}
	if p.source == nil || p.repository == nil {
		return domain.TaskResult{}, errors.New("pipeline is not configured")
	}

	feeds := p.source.Feeds()
	if len(feeds) == 0 {
		return domain.TaskResult{}, ErrNoFeeds
	}

	if err := p.repository.Ping(ctx); err != nil {
		return domain.TaskResult{}, fmt.Errorf("article store unavailable: %w", err)
	}

	var total domain.TaskResult
	n := len(feeds)

	for i, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("run interrupted: %w", err)
		}

		report(domain.ProgressUpdate{
			Message:  fmt.Sprintf("Fetching feed %d/%d", i+1, n),
			Progress: percent(i, 0, 1, n),
		})

		entries, err := p.source.Fetch(ctx, feed)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, fmt.Errorf("run interrupted: %w", ctxErr)
			}
			metrics.FeedFetches.WithLabelValues("error").Inc()
			p.logger.Warn("feed fetch failed", "feed", feed.Name, "url", feed.URL, "error", err)

			delta := domain.TaskResult{Errors: 1}
			total = total.Add(delta)
			report(domain.ProgressUpdate{
				Progress: percent(i+1, 0, 1, n),
				Stats:    domain.TaskStats{ProcessedFeeds: 1},
				Result:   delta,
			})
			continue
		}

		metrics.FeedFetches.WithLabelValues("ok").Inc()
		p.logger.Info("parsed feed", "feed", feed.Name, "entries", len(entries))
		report(domain.ProgressUpdate{Stats: domain.TaskStats{TotalFound: len(entries)}, Progress: percent(i, 0, 1, n)})

		m := len(entries)
		for j, entry := range entries {
			if err := ctx.Err(); err != nil {
				return total, fmt.Errorf("run interrupted: %w", err)
			}

			delta := p.processEntry(ctx, entry)
			total = total.Add(delta)
			report(domain.ProgressUpdate{
				Message:  fmt.Sprintf("Processing article %d/%d", j+1, m),
				Progress: percent(i, j+1, m, n),
				Stats:    domain.TaskStats{ProcessedArticles: 1},
				Result:   delta,
			})
		}

		report(domain.ProgressUpdate{
			Progress: percent(i+1, 0, 1, n),
			Stats:    domain.TaskStats{ProcessedFeeds: 1},
		})
	}

	p.logger.Info("ingestion run finished", "new", total.New, "duplicates", total.Duplicates, "errors", total.Errors)
	return total, nil
}

// processEntry returns the tally delta of one entry: exactly one of new, duplicate or error.
func (p *Pipeline) processEntry(ctx context.Context, entry domain.FeedEntry) domain.TaskResult {
	article, err := p.extractor.Prepare(ctx, entry)
	if err != nil {
		metrics.Articles.WithLabelValues("error").Inc()
		p.logger.Warn("skip feed entry", "feed", entry.FeedName, "error", err)
		return domain.TaskResult{Errors: 1}
	}

	dup, err := p.isDuplicate(ctx, article)
	if err != nil {
		metrics.Articles.WithLabelValues("error").Inc()
		p.logger.Warn("duplicate check failed", "url", article.URL, "error", err)
		return domain.TaskResult{Errors: 1}
	}
	if dup {
		metrics.Articles.WithLabelValues("duplicate").Inc()
		return domain.TaskResult{Duplicates: 1}
	}

	if p.fetchContent {
		if err := p.extractor.FillContent(ctx, &article); err != nil {
			p.logger.Debug("content extraction failed, keeping summary", "url", article.URL, "error", err)
		}
	}

	inserted, err := p.repository.Insert(ctx, article)
	if err != nil {
		metrics.Articles.WithLabelValues("error").Inc()
		p.logger.Warn("store article failed", "url", article.URL, "error", err)
		return domain.TaskResult{Errors: 1}
	}
	if !inserted {
		metrics.Articles.WithLabelValues("duplicate").Inc()
		return domain.TaskResult{Duplicates: 1}
	}

	metrics.Articles.WithLabelValues("new").Inc()
	p.logger.Debug("stored article", "url", article.URL, "topic", article.Topic)
	return domain.TaskResult{New: 1}
}

// isDuplicate checks the URL first and the title second.
func (p *Pipeline) isDuplicate(ctx context.Context, article domain.Article) (bool, error) {
	exists, err := p.repository.ExistsByURL(ctx, article.URL)
	if err != nil {
		return false, fmt.Errorf("check url: %w", err)
	}
	if exists {
		return true, nil
	}

	exists, err = p.repository.ExistsByTitle(ctx, article.Title)
	if err != nil {
		return false, fmt.Errorf("check title: %w", err)
	}
	return exists, nil
}

// percent maps feed i of n, article j of m, to a progress value below 100.
func percent(i, j, m, n int) int {
	if n <= 0 {
		return 0
	}
	if m <= 0 {
		m = 1
	}
	p := 100 * (i*m + j) / (n * m)
	if p > progressCap {
		return progressCap
	}
	return p
}
