// Package conversation bridges a user question to a streamed answer grounded
// in stored articles. The completion service decides which search tools to
// call; the service runs them against the store and feeds the results back.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"NewsParser/internal/domain"
	"NewsParser/internal/metrics"
	"NewsParser/internal/ports"
)

// ErrModelUnavailable is reported when no completion service is configured.
var ErrModelUnavailable = errors.New("completion service unavailable")

// ErrToolRounds is reported when the model keeps calling tools past the limit.
var ErrToolRounds = errors.New("too many tool call rounds")

// DefaultSystemPrompt instructs the model to answer only from tool results.
const DefaultSystemPrompt = "You are a helpful AI news assistant that specializes in summarizing and analyzing news articles. " +
	"ALWAYS include a url link to the article. " +
	"When users ask about news, search for relevant articles and summarize the key information. " +
	"For specific topics like politics, technology, health, business, sports, or science, provide focused news summaries on those topics. " +
	"If asked for the latest news, provide recent headlines across various categories. " +
	"Always mention the topic of the article when referencing it. " +
	"You have access to tools that can search for news articles by topic, query, and date. " +
	"You are only allowed to get articles from those tools and you can not rely on your own knowledge or any other resources. " +
	"Try to always retrieve some information by using tools, even if the user is not being very clear. " +
	"Also assume that the user is trying to search by a topic first, and then by a query."

const defaultMaxToolRounds = 5

// EventKind tags a stream event.
type EventKind string

const (
	EventChunk EventKind = "chunk"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Event is one element of a chat stream. A stream ends with exactly one
// EventDone or EventError.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	SystemPrompt  string
	MaxToolRounds int
}

// Service answers news questions with the help of the article store.
type Service struct {
	model         ports.ChatModel
	repo          ports.ArticleRepository
	systemPrompt  string
	maxToolRounds int
	logger        *slog.Logger
	now           func() time.Time
}

// NewService builds a service. model may be nil, in which case every chat
// fails with ErrModelUnavailable and titles fall back to the default.
func NewService(model ports.ChatModel, repo ports.ArticleRepository, opts Options, log *slog.Logger) *Service {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		model:         model,
		repo:          repo,
		systemPrompt:  opts.SystemPrompt,
		maxToolRounds: opts.MaxToolRounds,
		logger:        log,
		now:           time.Now,
	}
}

// Stream answers query in the context of history. The returned channel is
// closed after the terminal event, or early when ctx is cancelled.
func (s *Service) Stream(ctx context.Context, query string, history []domain.Message) <-chan Event {
	events := make(chan Event, 8)
	go func() {
		defer close(events)
		err := s.converse(ctx, query, history, func(text string) bool {
			return send(ctx, events, Event{Kind: EventChunk, Text: text})
		})
		switch {
		case ctx.Err() != nil:
			metrics.ChatStreams.WithLabelValues("cancelled").Inc()
		case err != nil:
			metrics.ChatStreams.WithLabelValues("error").Inc()
			s.warn("chat stream failed", "err", err)
			send(ctx, events, Event{Kind: EventError, Err: err})
		default:
			metrics.ChatStreams.WithLabelValues("ok").Inc()
			send(ctx, events, Event{Kind: EventDone})
		}
	}()
	return events
}

func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) converse(ctx context.Context, query string, history []domain.Message, emit func(string) bool) error {
	if s.model == nil {
		return ErrModelUnavailable
	}

	session, err := s.model.StartChat(ctx, ports.ChatRequest{
		System:  s.systemPrompt,
		History: history,
		Tools:   Tools(),
	})
	if err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	defer session.Close()

	turn := domain.Turn{Text: query}
	for round := 0; ; round++ {
		calls, err := s.relay(ctx, session, turn, emit)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}
		if round >= s.maxToolRounds {
			return ErrToolRounds
		}

		results := make([]domain.ToolResult, 0, len(calls))
		for _, call := range calls {
			metrics.ToolCalls.WithLabelValues(call.Name).Inc()
			s.debug("executing tool", "tool", call.Name, "args", call.Args)
			results = append(results, domain.ToolResult{
				CallID:   call.ID,
				Name:     call.Name,
				Response: s.executeTool(ctx, call),
			})
		}
		turn = domain.Turn{ToolResults: results}
	}
}

// relay forwards text from one model response in order and collects any tool calls.
func (s *Service) relay(ctx context.Context, session ports.ChatSession, turn domain.Turn, emit func(string) bool) ([]domain.ToolCall, error) {
	stream, err := session.Send(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer stream.Close()

	var calls []domain.ToolCall
	for {
		c, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return calls, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read completion: %w", err)
		}
		if c.Text != "" && !emit(c.Text) {
			return nil, ctx.Err()
		}
		calls = append(calls, c.ToolCalls...)
	}
}

// FallbackTitle is used when no title could be generated.
const FallbackTitle = "News Discussion"

const (
	titleContextLimit = 5
	titleTemperature  = 0.2
	titleMaxTokens    = 10
)

// Title generates a short chat title for query. It never fails: any problem
// with the store or the model yields FallbackTitle.
func (s *Service) Title(ctx context.Context, query string) string {
	if s.model == nil {
		return FallbackTitle
	}

	var related []domain.Article
	if s.repo != nil {
		found, err := s.repo.Search(ctx, domain.ArticleQuery{Keywords: query, Limit: titleContextLimit})
		if err != nil {
			s.warn("title context search failed", "err", err)
		}
		related = found
	}

	out, err := s.model.Generate(ctx, titlePrompt(query, related), ports.GenerateOptions{
		Temperature:     titleTemperature,
		MaxOutputTokens: titleMaxTokens,
	})
	if err != nil {
		s.warn("title generation failed", "err", err)
		return FallbackTitle
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"'`))
	if title == "" {
		return FallbackTitle
	}
	return title
}

func titlePrompt(query string, related []domain.Article) string {
	const instruction = "\n\nDon't include anything but the name as a clear string without any quotes or other characters."
	if len(related) == 0 {
		return "Generate a short, descriptive title (3-5 words) for a chat about the following news query: " + query + instruction
	}

	blocks := make([]string, 0, len(related))
	for _, a := range related {
		blocks = append(blocks, fmt.Sprintf("Headline: %s\nTopic: %s\nPublished: %s\nSummary: %s\nURL: %s",
			a.Title, a.Topic, a.PublishedAt.Format("2006-01-02 15:04"), a.Summary, a.URL))
	}
	return "Based on these news articles:\n\n" + strings.Join(blocks, "\n----\n") +
		"\n\nGenerate a short, descriptive title (3-5 words) for a chat about: " + query + instruction
}

func (s *Service) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
