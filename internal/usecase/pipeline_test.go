package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"NewsParser/internal/domain"
)

var published = time.Date(2025, time.October, 8, 10, 0, 0, 0, time.UTC)

func entry(feed, link, title string) domain.FeedEntry {
	return domain.FeedEntry{
		FeedName:    feed,
		FeedURL:     "https://feeds.bbci.co.uk/news/" + feed + "/rss.xml",
		Title:       title,
		Link:        link,
		Description: title + " in brief",
		PublishedAt: published,
	}
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo(domain.Article{URL: "https://www.bbc.co.uk/news/3", Title: "Old story"})
	source := &staticSource{
		feeds: []domain.Feed{{Name: "technology", URL: "https://feeds.bbci.co.uk/news/technology/rss.xml"}},
		entries: map[string][]domain.FeedEntry{
			"technology": {
				entry("technology", "https://www.bbc.co.uk/news/1", "First"),
				entry("technology", "https://www.bbc.co.uk/news/2?at_medium=RSS", "Second"),
				entry("technology", "https://www.bbc.co.uk/news/3", "Old story again"),
			},
		},
	}

	p := NewPipeline(PipelineDeps{
		Source:       source,
		Repository:   repo,
		Extractor:    NewArticleExtractor(stubContent{text: "Full body."}, nil),
		FetchContent: true,
	})

	var updates []domain.ProgressUpdate
	result, err := p.Run(context.Background(), func(u domain.ProgressUpdate) {
		updates = append(updates, u)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if diff := cmp.Diff(domain.TaskResult{New: 2, Duplicates: 1}, result); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	wantURLs := []string{"https://www.bbc.co.uk/news/1", "https://www.bbc.co.uk/news/2", "https://www.bbc.co.uk/news/3"}
	if diff := cmp.Diff(wantURLs, repo.urls()); diff != "" {
		t.Fatalf("stored urls mismatch (-want +got):\n%s", diff)
	}

	stored, _ := repo.GetByURL(context.Background(), "https://www.bbc.co.uk/news/1")
	if stored.Content != "Full body." || stored.Topic != "technology" || stored.Summary != "First in brief" {
		t.Fatalf("unexpected stored article: %+v", stored)
	}

	var (
		last     int
		stats    domain.TaskStats
		messages []string
	)
	for _, u := range updates {
		if u.Progress < last {
			t.Fatalf("progress decreased: %d -> %d", last, u.Progress)
		}
		if u.Progress > 99 {
			t.Fatalf("progress %d reported before completion", u.Progress)
		}
		last = u.Progress
		stats = stats.Add(u.Stats)
		if u.Message != "" {
			messages = append(messages, u.Message)
		}
	}

	if diff := cmp.Diff(domain.TaskStats{ProcessedFeeds: 1, TotalFound: 3, ProcessedArticles: 3}, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
	wantMessages := []string{"Fetching feed 1/1", "Processing article 1/3", "Processing article 2/3", "Processing article 3/3"}
	if diff := cmp.Diff(wantMessages, messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineIsolatesFailures(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.failURLs["https://www.bbc.co.uk/news/broken"] = true

	source := &staticSource{
		feeds: []domain.Feed{{Name: "world"}, {Name: "uk"}},
		entries: map[string][]domain.FeedEntry{
			"uk": {
				entry("uk", "https://www.bbc.co.uk/news/ok", "Fine"),
				entry("uk", "https://www.bbc.co.uk/news/broken", "Unlucky"),
				entry("uk", "", "No link"),
			},
		},
		errs: map[string]error{"world": errors.New("dial tcp: connection refused")},
	}

	p := NewPipeline(PipelineDeps{
		Source:       source,
		Repository:   repo,
		Extractor:    NewArticleExtractor(stubContent{err: errors.New("timeout")}, nil),
		FetchContent: true,
	})

	result, err := p.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(domain.TaskResult{New: 1, Errors: 3}, result); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	stored, err := repo.GetByURL(context.Background(), "https://www.bbc.co.uk/news/ok")
	if err != nil {
		t.Fatalf("healthy article not stored: %v", err)
	}
	if stored.Content != "" || stored.Summary == "" {
		t.Fatalf("failed content extraction must keep the summary only: %+v", stored)
	}
}

func TestPipelineTitleDuplicate(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo(domain.Article{URL: "https://www.bbc.co.uk/news/a", Title: "Same headline"})
	source := &staticSource{
		feeds: []domain.Feed{{Name: "uk"}},
		entries: map[string][]domain.FeedEntry{
			"uk": {entry("uk", "https://www.bbc.co.uk/news/b", "Same headline")},
		},
	}

	result, err := NewPipeline(PipelineDeps{Source: source, Repository: repo}).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Duplicates != 1 || result.New != 0 {
		t.Fatalf("expected title duplicate, got %+v", result)
	}
}

func TestPipelineFatalErrors(t *testing.T) {
	t.Parallel()

	down := newMemoryRepo()
	down.pingErr = errors.New("connection refused")

	tests := []struct {
		name   string
		source *staticSource
		repo   *memoryRepo
		ctx    func() context.Context
		want   string
	}{
		{
			name:   "no feeds",
			source: &staticSource{},
			repo:   newMemoryRepo(),
			ctx:    context.Background,
			want:   ErrNoFeeds.Error(),
		},
		{
			name:   "store down",
			source: &staticSource{feeds: []domain.Feed{{Name: "uk"}}},
			repo:   down,
			ctx:    context.Background,
			want:   "article store unavailable",
		},
		{
			name:   "cancelled",
			source: &staticSource{feeds: []domain.Feed{{Name: "uk"}}},
			repo:   newMemoryRepo(),
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			want: "run interrupted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPipeline(PipelineDeps{Source: tt.source, Repository: tt.repo}).Run(tt.ctx(), nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		i, j, m, n int
		want       int
	}{
		{0, 0, 1, 4, 0},
		{1, 0, 1, 4, 25},
		{1, 1, 2, 4, 37},
		{4, 0, 1, 4, 99},
		{0, 3, 3, 1, 99},
		{0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		if got := percent(tt.i, tt.j, tt.m, tt.n); got != tt.want {
			t.Fatalf("percent(%d,%d,%d,%d) = %d, want %d", tt.i, tt.j, tt.m, tt.n, got, tt.want)
		}
	}
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  https://www.bbc.co.uk/news/1  ", "https://www.bbc.co.uk/news/1", false},
		{"https://WWW.BBC.co.uk/news/1#comments", "https://www.bbc.co.uk/news/1", false},
		{"https://www.bbc.co.uk/news/1?at_medium=RSS&at_campaign=rss", "https://www.bbc.co.uk/news/1", false},
		{"https://example.com/a?id=7&utm_source=x", "https://example.com/a?id=7", false},
		{"", "", true},
		{"ftp://example.com/file", "", true},
		{"/relative/path", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("CanonicalURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
