package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"NewsParser/internal/api"
	"NewsParser/internal/config"
	"NewsParser/internal/conversation"
	"NewsParser/internal/domain"
	"NewsParser/internal/infrastructure/content"
	"NewsParser/internal/infrastructure/llm"
	"NewsParser/internal/infrastructure/ml"
	"NewsParser/internal/infrastructure/parser"
	"NewsParser/internal/infrastructure/scheduler"
	"NewsParser/internal/infrastructure/storage"
	"NewsParser/internal/infrastructure/telegram"
	"NewsParser/internal/logging"
	"NewsParser/internal/ports"
	"NewsParser/internal/scanner"
	"NewsParser/internal/supervisor"
	"NewsParser/internal/tasks"
	"NewsParser/internal/usecase"
	"NewsParser/pkg/logger"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	ingestor *usecase.Ingestor
	chat     *conversation.Service
	closers  []func() error
}

// New opens the article store and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	component := func(name string) *slog.Logger { return baseLogger.With("component", name) }

	repo, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open article store: %w", err)
	}
	a := &Application{cfg: cfg, logger: baseLogger, closers: []func() error{repo.Close}}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewRSSScanner(nil, cfg.Ingestion.FeedTimeout, cfg.Ingestion.UserAgent, component("scanner.rss")))
	source := parser.NewStrategySource(registry, cfg.Feeds, component("source"))

	var classifier ports.TopicClassifier
	if cfg.ML.InferenceURL != "" {
		classifier = ml.NewClient(cfg.ML.InferenceURL, cfg.ML.APIKey, component("classifier"))
	}
	extractor := content.NewExtractor(nil, content.Options{
		Timeout:         cfg.Ingestion.ContentTimeout,
		UserAgent:       cfg.Ingestion.UserAgent,
		RatePerSecond:   cfg.Ingestion.ContentRatePerSecond,
		BreakerFailures: cfg.Ingestion.BreakerFailures,
		BreakerCooldown: cfg.Ingestion.BreakerCooldown,
	}, component("content"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       source,
		Repository:   repo,
		Extractor:    usecase.NewArticleExtractor(extractor, classifier),
		FetchContent: cfg.Ingestion.FetchContent,
		Logger:       component("pipeline"),
	})

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID); tg.Enabled() {
		notifier = tg
	}

	a.ingestor = usecase.NewIngestor(usecase.IngestorDeps{
		Runner:          pipeline,
		Registry:        tasks.NewRegistry(cfg.Scheduler.TaskRetention, component("tasks")),
		Driver:          scheduler.NewIntervalScheduler(component("scheduler")),
		Notifier:        notifier,
		FetchInterval:   cfg.Scheduler.FetchInterval,
		CleanupInterval: cfg.Scheduler.CleanupInterval,
		Logger:          component("ingestor"),
	})
	if err := a.ingestor.RegisterJobs(); err != nil {
		_ = a.Close()
		return nil, err
	}

	model, err := a.chatModel(ctx, component("llm"))
	if err != nil {
		// Chat is optional; ingestion keeps working without a model.
		baseLogger.Warn("completion service disabled", "error", err)
	}
	a.chat = conversation.NewService(model, repo, conversation.Options{
		SystemPrompt:  cfg.LLM.SystemPrompt,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
	}, component("conversation"))

	return a, nil
}

func (a *Application) chatModel(ctx context.Context, log *slog.Logger) (ports.ChatModel, error) {
	if a.cfg.LLM.APIKey == "" {
		return nil, errors.New("no api key configured")
	}
	switch a.cfg.LLM.Provider {
	case "openai":
		return llm.NewChatGPTClient(a.cfg.LLM, log), nil
	default:
		g, err := llm.NewGemini(ctx, a.cfg.LLM.APIKey, a.cfg.LLM.Model, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	}
}

// Handler returns the HTTP surface.
func (a *Application) Handler() http.Handler {
	return api.NewServer(a.ingestor, a.chat, api.Options{
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit.Requests,
		RateWindow:  a.cfg.Server.RateLimit.Window,
		Logger:      a.logger.With("component", "api"),
	}).Routes()
}

// Serve runs the HTTP server and the scheduler under supervision until ctx is
// cancelled, then waits for an in-flight run within the shutdown timeout.
func (a *Application) Serve(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.New(a.logger, "http"),
	}

	tree := supervisor.NewTree(a.logger.With("component", "supervisor"), supervisor.TreeConfig{ShutdownTimeout: timeout})
	tree.AddIngestionService(supervisor.NewSchedulerService(a.ingestor, timeout))
	tree.AddAPIService(supervisor.NewHTTPService(srv, timeout))

	if a.cfg.Scheduler.RunOnStart {
		if id, _, err := a.ingestor.TriggerRun(ctx, domain.TaskScheduled); err != nil {
			a.logger.Warn("initial run not started", "error", err)
		} else {
			a.logger.Info("initial run started", "task_id", id)
		}
	}

	a.logger.Info("server listening", "addr", srv.Addr, "feeds", len(a.cfg.Feeds))
	serveErr := tree.Serve(ctx)

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil {
		for _, svc := range unstopped {
			a.logger.Warn("service failed to stop within timeout", "service", svc.Name)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.ingestor.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ingestion shutdown incomplete", "error", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// FetchOnce runs one manual ingestion synchronously and returns its final task.
func (a *Application) FetchOnce(ctx context.Context) (domain.Task, error) {
	id, _, err := a.ingestor.TriggerRun(ctx, domain.TaskManual)
	if err != nil {
		return domain.Task{}, err
	}
	if err := a.ingestor.Wait(ctx); err != nil {
		return domain.Task{}, fmt.Errorf("wait for run: %w", err)
	}
	return a.ingestor.Task(id)
}

// Close stops ingestion, then releases the store and the completion client.
func (a *Application) Close() error {
	var errs []error
	if a.ingestor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.ingestor.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
