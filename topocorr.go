package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/topocorr/admin"
	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/feed"
	"github.com/maxpert/topocorr/manager"
	_ "github.com/maxpert/topocorr/sink"
	"github.com/maxpert/topocorr/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("topocorr - topology correlation")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	hub := feed.NewHub()
	defer hub.Close()

	source, err := feed.NewSource(cfg.Config.Feed, hub, cfg.Config.InstanceID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create feed source")
		return
	}
	defer source.Close()

	registry, err := manager.NewRegistry(manager.RegistryConfig{
		Config: cfg.Config,
		Source: source,
		Logger: &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build topology pipelines")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start topology pipelines")
		return
	}
	defer registry.Stop()

	if cfg.Config.Admin.Enabled {
		srv, err := admin.Start(cfg.Config.Admin, admin.NewAdminHandlers(admin.FromRegistry(registry)), telemetry.GetMetricsHandler())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown")
			}
		}()
	}

	log.Info().
		Int("topologies", len(cfg.Config.Topologies)).
		Str("feed", cfg.Config.Feed.Type).
		Str("sink", cfg.Config.Sink.Type).
		Str("data_dir", cfg.Config.DataDir).
		Msg("topocorr is operational")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}
