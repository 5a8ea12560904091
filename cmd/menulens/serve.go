package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/menulens/internal/api"
	"github.com/kalambet/menulens/internal/config"
	"github.com/kalambet/menulens/internal/enrich"
	"github.com/kalambet/menulens/internal/health"
	"github.com/kalambet/menulens/internal/inference"
	"github.com/kalambet/menulens/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the menulens server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "menulens version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Describe.APIToken == "" {
		slog.Warn("no upstream API token configured; describe calls will likely be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := health.NewTracker()
	client := inference.NewClient(cfg.Describe, cfg.Images, tracker)

	jobs := store.New(cfg.Jobs.EvictionTTL)
	defer jobs.Close()

	worker := enrich.NewWorker(jobs, client, cfg.Images.MaxItems)

	handler := api.NewHandler(api.Deps{
		Describer:     client,
		Worker:        worker,
		Store:         jobs,
		Health:        tracker,
		Resetter:      client,
		MaxImageBytes: cfg.Server.MaxImageBytes,
	})

	// Pull the describe model out of cold start while the server comes up.
	if cfg.Describe.APIToken != "" {
		go client.Prewarm(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("menulens listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
