// Package main is the entry point for the newsletter service.
//
// main stays minimal:
//  1. Read configuration (configuration.yaml + APP_* env vars)
//  2. Create dependencies (logger, database pool)
//  3. Start the server
//
// Any startup failure is fatal: one log line, exit status 1.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sakif/newsletter/internal/config"
	"github.com/sakif/newsletter/internal/logging"
	"github.com/sakif/newsletter/internal/repository/sqldb"
	"github.com/sakif/newsletter/internal/server"
)

func main() {
	if err := run(context.Background(), os.Stdout); err != nil {
		os.Exit(1)
	}
}

// run is main without the exit, so startup failures can be tested. Log lines
// go to stdout.
func run(ctx context.Context, stdout io.Writer) error {
	// === 1. READ CONFIGURATION ===
	settings, err := config.Load()
	if err != nil {
		// No logger yet; fall back to a plain one for this single line.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to read configuration", slog.Any("error", err))
		return err
	}

	// === 2. SET UP LOGGING ===
	logger, err := logging.Init(settings.Log, stdout)
	if err != nil {
		slog.Error("failed to initialise logging", slog.Any("error", err))
		return err
	}

	// === 3. OPEN THE CONNECTION POOL ===
	store, err := sqldb.Open(ctx, settings.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("driver", settings.Database.Driver),
			slog.Any("error", err),
		)
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare database schema", slog.Any("error", err))
		return err
	}

	// === 4. CREATE AND START THE SERVER ===
	srv := server.New(server.Config{
		Addr:           settings.Address(),
		AllowedOrigins: settings.CORS.AllowedOrigins,
	}, logger, store)

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.Any("error", err))
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
