package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"NewsParser/internal/conversation"
	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
	"NewsParser/internal/tasks"
	"NewsParser/internal/usecase"
)

var fixedNow = time.Date(2025, time.October, 8, 12, 0, 0, 0, time.UTC)

type fakeIngestion struct {
	mu       sync.Mutex
	active   string
	triggers int
	err      error
	tasks    map[string]domain.Task
	status   usecase.SchedulerStatus
}

func (f *fakeIngestion) TriggerRun(_ context.Context, kind domain.TaskKind) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	if f.active != "" {
		return f.active, false, nil
	}
	f.triggers++
	f.active = "task-1"
	return f.active, true, nil
}

func (f *fakeIngestion) Task(id string) (domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, tasks.ErrNotFound
	}
	return t, nil
}

func (f *fakeIngestion) Status() usecase.SchedulerStatus { return f.status }

type fakeChat struct {
	events  []conversation.Event
	query   string
	history []domain.Message
}

func (f *fakeChat) Stream(_ context.Context, query string, history []domain.Message) <-chan conversation.Event {
	f.query, f.history = query, history
	ch := make(chan conversation.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (f *fakeChat) Title(_ context.Context, query string) string { return "Title for " + query }

func newTestServer(ing *fakeIngestion, chat *fakeChat, opts Options) http.Handler {
	s := NewServer(ing, chat, opts)
	s.now = func() time.Time { return fixedNow }
	return s.Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestIndexAndHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeIngestion{}, &fakeChat{}, Options{})

	rec := do(t, h, http.MethodGet, "/api", "")
	if rec.Code != http.StatusOK || decode(t, rec)["message"] != "Welcome to the News Parser API!" {
		t.Fatalf("index: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodGet, "/api/health", "")
	want := map[string]any{"status": "healthy", "timestamp": "2025-10-08T12:00:00Z"}
	if diff := cmp.Diff(want, decode(t, rec)); diff != "" {
		t.Fatalf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchReturnsActiveTask(t *testing.T) {
	t.Parallel()
	ing := &fakeIngestion{}
	h := newTestServer(ing, &fakeChat{}, Options{})

	first := decode(t, do(t, h, http.MethodPost, "/api/feeds/fetch", ""))
	second := decode(t, do(t, h, http.MethodPost, "/api/feeds/fetch", ""))

	if first["status"] != "started" || first["task_id"] != "task-1" || first["message"] != "Feed fetch started in the background" {
		t.Fatalf("unexpected first response: %v", first)
	}
	if second["status"] != "already_running" || second["task_id"] != "task-1" {
		t.Fatalf("unexpected second response: %v", second)
	}
	if ing.triggers != 1 {
		t.Fatalf("expected one started run, got %d", ing.triggers)
	}
}

func TestFetchUnavailable(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeIngestion{err: usecase.ErrUnavailable}, &fakeChat{}, Options{})
	if rec := do(t, h, http.MethodPost, "/api/feeds/fetch", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestFetchRateLimited(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeIngestion{}, &fakeChat{}, Options{RateLimit: 1, RateWindow: time.Minute})

	if rec := do(t, h, http.MethodPost, "/api/feeds/fetch", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/feeds/fetch", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestTaskStatus(t *testing.T) {
	t.Parallel()

	completed := fixedNow.Add(-time.Minute)
	ing := &fakeIngestion{tasks: map[string]domain.Task{
		"done": {
			ID: "done", Kind: domain.TaskManual, Status: domain.StatusCompleted, StatusMessage: "Feed fetch completed",
			Progress: 100, StartedAt: completed.Add(-12340 * time.Millisecond), CompletedAt: &completed,
			Result: domain.TaskResult{New: 2, Duplicates: 1},
		},
		"busy": {ID: "busy", Kind: domain.TaskScheduled, Status: domain.StatusRunning, Progress: 40, StartedAt: fixedNow},
	}}
	h := newTestServer(ing, &fakeChat{}, Options{})

	rec := do(t, h, http.MethodGet, "/api/feeds/tasks/done", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	task := decode(t, rec)["task"].(map[string]any)
	if task["status"] != "completed" || task["duration_seconds"] != 12.3 || task["completed_at_formatted"] != "2025-10-08T11:59:00Z" {
		t.Fatalf("unexpected task view: %v", task)
	}
	if diff := cmp.Diff(map[string]any{"new": 2.0, "duplicates": 1.0, "errors": 0.0}, task["result"]); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	task = decode(t, do(t, h, http.MethodGet, "/api/feeds/tasks/busy", ""))["task"].(map[string]any)
	if _, ok := task["duration_seconds"]; ok || task["completed_at"] != nil {
		t.Fatalf("running task must not report completion: %v", task)
	}

	rec = do(t, h, http.MethodGet, "/api/feeds/tasks/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if diff := cmp.Diff(map[string]any{"error": "Task not found", "task_id": "nope"}, decode(t, rec)); diff != "" {
		t.Fatalf("not found body mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerStatus(t *testing.T) {
	t.Parallel()

	next := fixedNow.Add(time.Hour)
	ing := &fakeIngestion{status: usecase.SchedulerStatus{
		Running: true,
		Jobs: []ports.JobInfo{
			{ID: usecase.FetchJobID, Name: "Fetch RSS feeds", Interval: time.Hour, NextRun: next},
			{ID: usecase.CleanupJobID, Name: "Clean up old tasks", Interval: 10 * time.Minute},
		},
	}}
	h := newTestServer(ing, &fakeChat{}, Options{})

	got := decode(t, do(t, h, http.MethodGet, "/api/feeds/status", ""))
	want := map[string]any{
		"status": "running",
		"jobs": []any{
			map[string]any{"id": "fetch_rss_feeds", "name": "Fetch RSS feeds", "next_run": "2025-10-08T13:00:00Z", "trigger": "interval[1h0m0s]"},
			map[string]any{"id": "cleanup_old_tasks", "name": "Clean up old tasks", "next_run": nil, "trigger": "interval[10m0s]"},
		},
		"timestamp": "2025-10-08T12:00:00Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{events: []conversation.Event{
		{Kind: conversation.EventChunk, Text: "Hello "},
		{Kind: conversation.EventChunk, Text: "world"},
		{Kind: conversation.EventDone},
	}}
	h := newTestServer(&fakeIngestion{}, chat, Options{})

	rec := do(t, h, http.MethodPost, "/api/chat", `{"message":"news?","history":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	body, _ := io.ReadAll(rec.Body)
	want := "data: {\"chunk\":\"Hello \"}\n\ndata: {\"chunk\":\"world\"}\n\ndata: {\"done\":true}\n\n"
	if string(body) != want {
		t.Fatalf("stream body = %q, want %q", body, want)
	}
	if chat.query != "news?" || len(chat.history) != 1 {
		t.Fatalf("unexpected call: %q %v", chat.query, chat.history)
	}
}

func TestChatStreamError(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{events: []conversation.Event{{Kind: conversation.EventError, Err: errors.New("quota exceeded")}}}
	h := newTestServer(&fakeIngestion{}, chat, Options{})

	rec := do(t, h, http.MethodPost, "/api/chat", `{"message":"news?"}`)
	if got := rec.Body.String(); got != "data: {\"error\":\"quota exceeded\"}\n\n" {
		t.Fatalf("stream body = %q", got)
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeIngestion{}, &fakeChat{}, Options{})

	tests := []struct {
		name, path, body, wantErr string
	}{
		{"chat without message", "/api/chat", `{"history":[]}`, "No message provided"},
		{"chat with junk", "/api/chat", `not json`, "No message provided"},
		{"title without query", "/api/chat/title", `{"query":"  "}`, "No query provided"},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, tt.path, tt.body)
		if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != tt.wantErr {
			t.Fatalf("%s: got %d %s", tt.name, rec.Code, rec.Body)
		}
	}

	rec := do(t, h, http.MethodPost, "/api/chat", `{"message":"x","history":[{"role":"robot","content":"x"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: expected 400, got %d", rec.Code)
	}
}

func TestChatTitle(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeIngestion{}, &fakeChat{}, Options{})

	got := decode(t, do(t, h, http.MethodPost, "/api/chat/title", `{"query":"budget"}`))
	if diff := cmp.Diff(map[string]any{"title": "Title for budget", "timestamp": "2025-10-08T12:00:00Z"}, got); diff != "" {
		t.Fatalf("title mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestServer(&fakeIngestion{}, &fakeChat{}, Options{})

	do(t, h, http.MethodGet, "/api/health", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "newsparser_http_requests_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}
