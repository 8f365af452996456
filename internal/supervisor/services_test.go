package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeServer struct {
	mu       sync.Mutex
	stop     chan struct{}
	listened bool
	shutdown bool
	failWith error
}

func newFakeServer() *fakeServer { return &fakeServer{stop: make(chan struct{})} }

func (f *fakeServer) ListenAndServe() error {
	f.mu.Lock()
	f.listened = true
	err := f.failWith
	f.mu.Unlock()
	if err != nil {
		return err
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	close(f.stop)
	return nil
}

type fakeLifecycle struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (f *fakeLifecycle) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeLifecycle) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeLifecycle) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !srv.shutdown {
		t.Fatal("server was not shut down")
	}
}

func TestHTTPServiceListenFailure(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.failWith = errors.New("address already in use")
	if err := NewHTTPService(srv, time.Second).Serve(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestTreeRunsSchedulerService(t *testing.T) {
	t.Parallel()

	target := &fakeLifecycle{}
	tree := NewTree(nil, TreeConfig{ShutdownTimeout: time.Second})
	tree.AddIngestionService(NewSchedulerService(target, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if started, _ := target.counts(); started == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler service was not started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	if _, stopped := target.counts(); stopped != 1 {
		t.Fatalf("expected one Stop, got %d", stopped)
	}

	unstopped, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("UnstoppedServiceReport: %v", err)
	}
	if len(unstopped) != 0 {
		t.Fatalf("expected every service to stop, got %d unstopped", len(unstopped))
	}
}
