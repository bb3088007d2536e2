package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/parley/internal/adapters/http"
	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/config"
	"github.com/dkeye/parley/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// The media engine is the only fatal init: without it there is no
	// point accepting connections.
	engine, err := media.NewEngine(media.EngineConfig{
		AnnouncedIP: cfg.AnnouncedIP,
		MinPort:     cfg.RTCMinPort,
		MaxPort:     cfg.RTCMaxPort,
		EnableTCP:   cfg.EnableTCP,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init media engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error().Err(err).Msg("engine close")
		}
	}()

	mediaRouter, err := engine.NewRouter(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create media router")
	}

	presence := app.NewPresenceRegistry()
	rooms := app.NewRoomManager(mediaRouter, presence)
	relay := app.NewSignalRelay(presence)
	orch := app.NewOrchestrator(presence, rooms, relay)

	r := router.SetupRouter(ctx, cfg, orch)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
