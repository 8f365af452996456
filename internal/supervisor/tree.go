// Package supervisor runs the long-lived parts of the server (HTTP listener,
// periodic scheduler) under a suture tree so a crashed service is restarted
// with backoff instead of taking the process down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration. Zero values use suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// Tree is the root supervisor with one child layer for ingestion and one for the API.
type Tree struct {
	root      *suture.Supervisor
	ingestion *suture.Supervisor
	api       *suture.Supervisor
}

// NewTree builds the supervisor hierarchy. Events are logged through sutureslog.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("newsparser", rootSpec)
	ingestion := suture.New("ingestion-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(ingestion)
	root.Add(api)

	return &Tree{root: root, ingestion: ingestion, api: api}
}

// AddIngestionService adds a service to the ingestion layer (the scheduler).
func (t *Tree) AddIngestionService(svc suture.Service) suture.ServiceToken {
	return t.ingestion.Add(svc)
}

// AddAPIService adds a service to the API layer (the HTTP server).
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine; the channel yields its exit error.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services of every layer that missed the
// shutdown timeout. It blocks until the tree has terminated.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	var out []suture.UnstoppedService
	for _, s := range []*suture.Supervisor{t.root, t.ingestion, t.api} {
		report, err := s.UnstoppedServiceReport()
		if err != nil {
			return out, err
		}
		out = append(out, report...)
	}
	return out, nil
}
