// Package main is the entry point for the KEA pipeline service.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kea-dev/kea/internal/config"
	"github.com/kea-dev/kea/internal/httpapi"
	"github.com/kea-dev/kea/internal/metrics"
	"github.com/kea-dev/kea/internal/pipeline"
	"github.com/kea-dev/kea/internal/registry"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	reg := registry.New(cfg.Descriptors(), logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	// A fresh Orchestrator is built per request: its State is owned by a
	// single run, so sharing one across concurrent requests would race.
	// The registry, metrics, and logger underneath are safe to share.
	newOrchestrator := func() *pipeline.Orchestrator {
		return pipeline.New(reg, cfg.Pipeline.ProviderTimeoutSeconds, cfg.Pipeline.MinProviders, m, logger)
	}

	srv := httpapi.New(newOrchestrator)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("kea pipeline service listening", "port", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
