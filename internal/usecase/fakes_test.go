package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
)

type memoryRepo struct {
	mu       sync.Mutex
	byURL    map[string]domain.Article
	pingErr  error
	failURLs map[string]bool
	nextID   int64
}

func newMemoryRepo(seed ...domain.Article) *memoryRepo {
	r := &memoryRepo{byURL: map[string]domain.Article{}, failURLs: map[string]bool{}}
	for _, a := range seed {
		_, _ = r.Insert(context.Background(), a)
	}
	return r
}

func (r *memoryRepo) Ping(context.Context) error { return r.pingErr }

func (r *memoryRepo) ExistsByURL(_ context.Context, url string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byURL[url]
	return ok, nil
}

func (r *memoryRepo) ExistsByTitle(_ context.Context, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byURL {
		if a.Title == title {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) Insert(_ context.Context, a domain.Article) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failURLs[a.URL] {
		return false, errors.New("disk full")
	}
	if _, ok := r.byURL[a.URL]; ok {
		return false, nil
	}
	r.nextID++
	a.ID = r.nextID
	r.byURL[a.URL] = a
	return true, nil
}

func (r *memoryRepo) Search(context.Context, domain.ArticleQuery) ([]domain.Article, error) {
	return nil, errors.New("not used")
}

func (r *memoryRepo) GetByURL(_ context.Context, url string) (domain.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byURL[url]
	if !ok {
		return domain.Article{}, errors.New("not found")
	}
	return a, nil
}

func (r *memoryRepo) Count(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byURL), nil
}

func (r *memoryRepo) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byURL))
	for u := range r.byURL {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

var _ ports.ArticleRepository = (*memoryRepo)(nil)

type staticSource struct {
	feeds   []domain.Feed
	entries map[string][]domain.FeedEntry
	errs    map[string]error
}

func (s *staticSource) Feeds() []domain.Feed { return s.feeds }

func (s *staticSource) Fetch(_ context.Context, feed domain.Feed) ([]domain.FeedEntry, error) {
	if err := s.errs[feed.Name]; err != nil {
		return nil, err
	}
	return s.entries[feed.Name], nil
}

var _ ports.FeedSource = (*staticSource)(nil)

type stubContent struct {
	text string
	err  error
}

func (s stubContent) Extract(context.Context, string) (string, error) {
	return s.text, s.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	release chan struct{}

	mu      sync.Mutex
	current int
	peak    int
	runs    int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (b *blockingRunner) Run(ctx context.Context, report ProgressFunc) (domain.TaskResult, error) {
	b.mu.Lock()
	b.current++
	b.runs++
	if b.current > b.peak {
		b.peak = b.current
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.current--
		b.mu.Unlock()
	}()

	report(domain.ProgressUpdate{Message: "Fetching feed 1/1", Progress: 1})
	select {
	case <-b.release:
	case <-ctx.Done():
		return domain.TaskResult{}, ctx.Err()
	}
	return domain.TaskResult{New: 1}, nil
}

func (b *blockingRunner) stats() (runs, peak int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs, b.peak
}

type runnerFunc func(ctx context.Context, report ProgressFunc) (domain.TaskResult, error)

func (f runnerFunc) Run(ctx context.Context, report ProgressFunc) (domain.TaskResult, error) {
	return f(ctx, report)
}

type fakeDriver struct {
	mu      sync.Mutex
	jobs    map[string]ports.Job
	order   []string
	running bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{jobs: map[string]ports.Job{}}
}

func (d *fakeDriver) Register(id, _ string, _ time.Duration, job ports.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.jobs[id]; ok {
		return fmt.Errorf("duplicate %s", id)
	}
	d.jobs[id] = job
	d.order = append(d.order, id)
	return nil
}

func (d *fakeDriver) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	return nil
}

func (d *fakeDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return nil
}

func (d *fakeDriver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDriver) Jobs() []ports.JobInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ports.JobInfo, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, ports.JobInfo{ID: id, Name: id})
	}
	return out
}

func (d *fakeDriver) fire(ctx context.Context, id string) {
	d.mu.Lock()
	job := d.jobs[id]
	d.mu.Unlock()
	job(ctx, time.Now())
}

var _ ports.Scheduler = (*fakeDriver)(nil)
