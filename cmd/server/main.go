package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docforge/internal/api"
	"github.com/dgallion1/docforge/internal/artifact"
	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/formats"
	"github.com/dgallion1/docforge/internal/license"
	"github.com/dgallion1/docforge/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	lic, err := license.ForMode(cfg.LicenseMode)
	if err != nil {
		log.Error("invalid license mode", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := formats.Registry(codec.WithLicense(lic), codec.WithLogger(log))

	// The artifact store is optional; results stay in memory without it.
	var (
		store  pipeline.ArtifactStore
		client *artifact.Client
	)
	if cfg.ArtifactURL != "" {
		client = artifact.NewClient(cfg.ArtifactURL, cfg.ArtifactAPIKey)
		store = client
	}

	// Initialize pipeline.
	stats := pipeline.NewConversionStats(cfg.StatsWindow)
	worker := pipeline.NewWorker(reg, store, stats, log, cfg)
	orch := pipeline.NewOrchestrator(cfg, worker, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, reg, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.SaveTimeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if client != nil {
			client.Close()
		}
	}()

	log.Info("starting docforge",
		"port", cfg.Port,
		"workers", cfg.WorkerCount,
		"license", cfg.LicenseMode,
		"artifact_store", cfg.ArtifactURL != "",
		"load_formats", reg.LoadFormats(),
		"save_formats", reg.SaveFormats(),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
