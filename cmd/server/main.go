// Package main starts the invoiceflow HTTP service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/kaiwenliu/invoiceflow/internal/config"
	"github.com/kaiwenliu/invoiceflow/internal/extract"
	"github.com/kaiwenliu/invoiceflow/internal/pdfutil"
	"github.com/kaiwenliu/invoiceflow/internal/pipeline"
	"github.com/kaiwenliu/invoiceflow/internal/server"
	"github.com/kaiwenliu/invoiceflow/internal/store"
	"github.com/kaiwenliu/invoiceflow/internal/upload"
)

func main() {
	// .env is optional; real deployments configure the environment directly.
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "invoiceflow").
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The Gemini client lives for the whole process and is injected into the
	// extractor rather than reached through a package global.
	gemini, closeGemini, err := extract.NewGeminiModel(ctx, cfg.GeminiProject, cfg.GeminiRegion, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("init gemini client")
	}
	defer func() {
		_ = closeGemini()
	}()

	uploads, err := upload.NewDir(cfg.UploadDir, cfg.MaxFileSize)
	if err != nil {
		log.Fatal().Err(err).Msg("init upload dir")
	}

	records := store.NewMemoryStore()
	extractor := extract.New(gemini, log)
	coordinator := pipeline.New(records, uploads, pdfutil.RasterizeFirstPage, extractor, cfg.Workers, log)
	srv := server.New(cfg, records, coordinator, uploads, log)

	log.Info().Str("address", cfg.Address).Msg("invoiceflow listening")
	if err := srv.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
