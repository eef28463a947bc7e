// Package main provides the entry point for the Midas server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/midas/internal/appctx"
	"github.com/thebtf/midas/internal/httpapi"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "midas.yaml", "path to the midas config file")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("version", Version).Str("config", *configPath).Msg("starting midas")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := appctx.New(ctx, Version, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application context")
	}
	if level, err := zerolog.ParseLevel(app.Config.Get().Runtime.LogLevel); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	svc := httpapi.NewService(app, Version)
	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start http server")
	}

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	log.Info().Msg("midas shutdown complete")
}
