package conversation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"NewsParser/internal/domain"
)

// Tool names exposed to the completion service.
const (
	ToolSearchByTopic = "search_news_by_topic"
	ToolSearchByQuery = "search_news_by_query"
	ToolSearchByDate  = "search_news_by_date"

	topicLimit  = 5
	queryLimit  = 5
	recentLimit = 10
	defaultDays = 1
	maxDays     = 365
)

// Tools declares the three article searches the model may call.
func Tools() []domain.ToolSpec {
	return []domain.ToolSpec{
		{
			Name:        ToolSearchByTopic,
			Description: "Search for news articles by topic (e.g. politics, technology, health, business, sports, science, entertainment, world, uk).",
			Params: []domain.ToolParam{
				{Name: "topic", Type: "string", Description: "The news topic to search for.", Required: true},
			},
		},
		{
			Name:        ToolSearchByQuery,
			Description: "Search for news articles whose title, summary or content contain every word of the query.",
			Params: []domain.ToolParam{
				{Name: "query", Type: "string", Description: "Free text search terms.", Required: true},
			},
		},
		{
			Name:        ToolSearchByDate,
			Description: "Get the most recent news articles published within the last number of days.",
			Params: []domain.ToolParam{
				{Name: "days", Type: "integer", Description: "How many days back to look. Defaults to 1."},
			},
		},
	}
}

// ArticleView is the shape of one article inside a tool result.
type ArticleView struct {
	Title       string `json:"title"`
	PublishedAt string `json:"published_at"`
	Summary     string `json:"summary"`
	URL         string `json:"url"`
	Topic       string `json:"topic"`
}

// executeTool runs one tool call against the article store and returns the
// model-facing response. Failures are reported inside the response so the
// model can tell the user instead of the stream aborting.
func (s *Service) executeTool(ctx context.Context, call domain.ToolCall) map[string]any {
	q, err := s.toolQuery(call)
	if err != nil {
		return toolError(err)
	}

	articles, err := s.repo.Search(ctx, q)
	if err != nil {
		s.warn("tool search failed", "tool", call.Name, "err", err)
		return toolError(fmt.Errorf("search articles: %w", err))
	}

	views := make([]ArticleView, 0, len(articles))
	for _, a := range articles {
		views = append(views, ArticleView{
			Title:       a.Title,
			PublishedAt: a.PublishedAt.UTC().Format(time.RFC3339),
			Summary:     a.Summary,
			URL:         a.URL,
			Topic:       a.Topic,
		})
	}
	return map[string]any{
		"articles": views,
		"found":    len(views),
		"source":   "database",
	}
}

func (s *Service) toolQuery(call domain.ToolCall) (domain.ArticleQuery, error) {
	switch call.Name {
	case ToolSearchByTopic:
		topic := strings.TrimSpace(stringArg(call.Args, "topic"))
		if topic == "" {
			return domain.ArticleQuery{}, fmt.Errorf("topic is required")
		}
		return domain.ArticleQuery{Topic: topic, Limit: topicLimit}, nil
	case ToolSearchByQuery:
		query := strings.TrimSpace(stringArg(call.Args, "query"))
		if query == "" {
			return domain.ArticleQuery{}, fmt.Errorf("query is required")
		}
		return domain.ArticleQuery{Keywords: query, Limit: queryLimit}, nil
	case ToolSearchByDate:
		days := intArg(call.Args, "days", defaultDays)
		if days <= 0 {
			days = defaultDays
		}
		days = min(days, maxDays)
		since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
		return domain.ArticleQuery{Since: since, Limit: recentLimit}, nil
	default:
		return domain.ArticleQuery{}, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func toolError(err error) map[string]any {
	return map[string]any{
		"articles": []ArticleView{},
		"found":    0,
		"source":   "database",
		"error":    err.Error(),
	}
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// intArg accepts the numeric forms decoders produce for JSON numbers.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(math.Round(float64(v)))
	case float64:
		return int(math.Round(v))
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}
