// Package content downloads article pages and reduces them to plain paragraphs.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"NewsParser/internal/metrics"
	"NewsParser/internal/ports"
)

// ErrNoContent is returned when the page has no paragraph worth keeping.
var ErrNoContent = errors.New("no article content found")

const (
	minBodyParagraph     = 20
	minFallbackParagraph = 50
	paragraphSeparator   = "\n\n"
)

var (
	skipParents = map[string]struct{}{
		"figcaption": {},
		"footer":     {},
		"aside":      {},
		"nav":        {},
	}
	skipClasses = []string{"media-caption", "footer", "timestamp", "byline"}
)

// Options tunes the extractor. Zero values fall back to defaults.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	RatePerSecond   float64
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Extractor fetches one page per call. Requests share a rate limiter and a
// circuit breaker so a failing news site stops being hammered mid-run.
type Extractor struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[*goquery.Document]
	logger    *slog.Logger
}

var _ ports.ContentExtractor = (*Extractor)(nil)

// NewExtractor builds an Extractor around client (a default one when nil).
func NewExtractor(client *http.Client, opts Options, log *slog.Logger) *Extractor {
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "NewsParser/1.0"
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	e := &Extractor{
		client:    client,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    log,
	}

	failures := opts.BreakerFailures
	e.breaker = gobreaker.NewCircuitBreaker[*goquery.Document](gobreaker.Settings{
		Name:    "content-extractor",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			if e.logger != nil {
				e.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("content-extractor").Set(0)

	return e
}

// Extract returns the article body of url as paragraphs separated by a blank line.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	doc, err := e.breaker.Execute(func() (*goquery.Document, error) {
		return e.fetchDocument(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ContentExtractions.WithLabelValues("rejected").Inc()
		} else {
			metrics.ContentExtractions.WithLabelValues("error").Inc()
		}
		return "", fmt.Errorf("extract %s: %w", url, err)
	}

	text := Paragraphs(doc)
	if text == "" {
		metrics.ContentExtractions.WithLabelValues("empty").Inc()
		return "", ErrNoContent
	}
	metrics.ContentExtractions.WithLabelValues("ok").Inc()
	return text, nil
}

func (e *Extractor) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Paragraphs picks the body paragraphs of the first <article> (or <main>) and
// falls back to every long paragraph of the page.
func Paragraphs(doc *goquery.Document) string {
	var blocks []string

	body := doc.Find("article").First()
	if body.Length() == 0 {
		body = doc.Find("main").First()
	}

	body.Find("p").Each(func(_ int, p *goquery.Selection) {
		if _, skip := skipParents[goquery.NodeName(p.Parent())]; skip {
			return
		}
		for _, cls := range skipClasses {
			if p.HasClass(cls) {
				return
			}
		}
		if text := strings.TrimSpace(p.Text()); len(text) > minBodyParagraph {
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 {
		doc.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := strings.TrimSpace(p.Text()); len(text) > minFallbackParagraph {
				blocks = append(blocks, text)
			}
		})
	}

	return strings.Join(blocks, paragraphSeparator)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
