// proofScore - Credit score attestations for ledger accounts
package main

import (
	"context"
	"os"

	"github.com/ShahiTechnovation/proofScore/internal/config"
	"github.com/ShahiTechnovation/proofScore/internal/logging"
	"github.com/ShahiTechnovation/proofScore/internal/server"
	"github.com/ShahiTechnovation/proofScore/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting proofScore",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"ledger_url", cfg.LedgerURL,
		"program", cfg.ProgramID,
	)

	ctx := context.Background()

	// Tracing (no-op without a collector endpoint)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	runErr := srv.Run(ctx)

	// Flush any batched spans before exiting
	if err := shutdownTraces(context.Background()); err != nil {
		logger.Error("trace shutdown error", "error", err)
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
}
