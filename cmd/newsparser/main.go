package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"NewsParser/internal/app"
	"NewsParser/internal/config"
	"NewsParser/internal/logging"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "newsparser",
		Short:         "News feed ingestion and grounded chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("NEWSPARSER_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	root.AddCommand(serveCmd(), fetchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "newsparser:", err)
		os.Exit(1)
	}
}

func loadApp(ctx context.Context) (*app.Application, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			return application.Serve(ctx)
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one ingestion pass and print the finished task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			task, err := application.FetchOnce(ctx)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
}
