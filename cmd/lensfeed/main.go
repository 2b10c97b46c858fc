// Command lensfeed runs the content aggregation engine, either as the
// long-running scheduler (serve) or as a single admin pass (once).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/app"
	"github.com/lensfeed/lensfeed/internal/platform/config"
)

const startupTimeout = 2 * time.Minute

func main() {
	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	engine, err := app.New(startupCtx, cfg, &logger)

	cancel()

	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	defer engine.Close()

	switch mode {
	case "serve":
		err = engine.Serve(ctx)
	case "once":
		err = engine.RunOnce(ctx)
	default:
		logger.Fatal().Str("mode", mode).Msg("unknown mode, expected serve or once")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("engine stopped")
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(appEnv string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if appEnv == "local" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}

	return logger
}
