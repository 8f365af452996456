package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const articlePage = `<html><body>
<nav><p>Home News Sport Weather iPlayer Sounds</p></nav>
<article>
  <h1>Chip makers race ahead</h1>
  <p class="byline">By a long-serving technology reporter</p>
  <p>Semiconductor firms opened three new plants this week.</p>
  <figure><figcaption><p>A worker inspects a silicon wafer in the clean room</p></figcaption></figure>
  <p>Short one.</p>
  <p>Analysts expect output to double before the end of the decade.</p>
  <footer><p>Copyright notice that should never appear in content</p></footer>
</article>
</body></html>`

const plainPage = `<html><body>
<div><p>Too short to keep.</p></div>
<div><p>This paragraph lives outside any article element but is long enough to keep.</p></div>
</body></html>`

func docFrom(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func TestParagraphsArticleBody(t *testing.T) {
	t.Parallel()

	got := Paragraphs(docFrom(t, articlePage))
	want := "Semiconductor firms opened three new plants this week.\n\n" +
		"Analysts expect output to double before the end of the decade."
	if got != want {
		t.Fatalf("Paragraphs() = %q, want %q", got, want)
	}
}

func TestParagraphsFallback(t *testing.T) {
	t.Parallel()

	got := Paragraphs(docFrom(t, plainPage))
	want := "This paragraph lives outside any article element but is long enough to keep."
	if got != want {
		t.Fatalf("Paragraphs() = %q, want %q", got, want)
	}
}

func TestExtractorExtract(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>tiny</p></body></html>`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := NewExtractor(server.Client(), Options{Timeout: time.Second}, nil)

	text, err := ex.Extract(context.Background(), server.URL+"/article")
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !strings.HasPrefix(text, "Semiconductor firms") {
		t.Fatalf("unexpected text %q", text)
	}

	if _, err := ex.Extract(context.Background(), server.URL+"/empty"); !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}

	if _, err := ex.Extract(context.Background(), server.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404 page")
	}
}

func TestExtractorBreakerOpens(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	ex := NewExtractor(server.Client(), Options{
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}, nil)

	for i := 0; i < 4; i++ {
		if _, err := ex.Extract(context.Background(), server.URL); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected breaker to stop requests after 2 failures, server saw %d", got)
	}
}
