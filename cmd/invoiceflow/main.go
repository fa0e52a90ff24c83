// Package main is the invoiceflow CLI: the same rename pipeline as the HTTP
// service, run directly over local PDF files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kaiwenliu/invoiceflow/internal/config"
	"github.com/kaiwenliu/invoiceflow/internal/extract"
	"github.com/kaiwenliu/invoiceflow/internal/model"
	"github.com/kaiwenliu/invoiceflow/internal/pdfutil"
	"github.com/kaiwenliu/invoiceflow/internal/pipeline"
	"github.com/kaiwenliu/invoiceflow/internal/server"
	"github.com/kaiwenliu/invoiceflow/internal/store"
	"github.com/kaiwenliu/invoiceflow/internal/upload"
)

const version = "1.1.0"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "invoiceflow: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoiceflow",
		Short: "Rename Taiwanese electronic invoice PDFs by extracted fields",
		Long: `invoiceflow reads electronic invoice PDFs, extracts the business number,
invoice date and buyer name with Gemini, and renames each file to
<businessNumber>_<date>.pdf.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newRenameCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newRenameCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "rename <pdf>...",
		Short: "Process local invoice PDFs and write renamed copies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := consoleLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gemini, closeGemini, err := extract.NewGeminiModel(ctx, cfg.GeminiProject, cfg.GeminiRegion, cfg.GeminiModel)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeGemini()
			}()

			spool, err := os.MkdirTemp("", "invoiceflow-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(spool)
			uploads, err := upload.NewDir(spool, cfg.MaxFileSize)
			if err != nil {
				return err
			}

			records := store.NewMemoryStore()
			coordinator := pipeline.New(records, uploads, pdfutil.RasterizeFirstPage, extract.New(gemini, log), cfg.Workers, log)

			for _, path := range args {
				record, err := uploads.SaveFile(path)
				if err != nil {
					if errors.Is(err, upload.ErrNotPDF) {
						log.Warn().Str("file", path).Msg("skipping: not a PDF document")
						continue
					}
					return fmt.Errorf("%s: %w", path, err)
				}
				records.Add(record)
			}
			if len(records.List()) == 0 {
				return errors.New("no usable PDF files given")
			}

			// Files are dispatched immediately; there is no idle stage on the
			// command line.
			if err := coordinator.ProcessEligible(ctx); err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return err
			}
			var failed int
			for _, record := range records.List() {
				switch record.Status {
				case model.StatusSuccess:
					data, err := uploads.Read(record.ObjectKey)
					if err != nil {
						return err
					}
					dest := filepath.Join(outDir, *record.NewName)
					if err := os.WriteFile(dest, data, 0o640); err != nil {
						return err
					}
					fmt.Printf("%s -> %s\n", record.Name, *record.NewName)
				case model.StatusError:
					failed++
					fmt.Printf("%s: %s\n", record.Name, *record.ErrorMessage)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory for renamed copies")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the invoiceflow HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := consoleLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gemini, closeGemini, err := extract.NewGeminiModel(ctx, cfg.GeminiProject, cfg.GeminiRegion, cfg.GeminiModel)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeGemini()
			}()
			uploads, err := upload.NewDir(cfg.UploadDir, cfg.MaxFileSize)
			if err != nil {
				return err
			}
			records := store.NewMemoryStore()
			coordinator := pipeline.New(records, uploads, pdfutil.RasterizeFirstPage, extract.New(gemini, log), cfg.Workers, log)
			log.Info().Str("address", cfg.Address).Msg("invoiceflow listening")
			return server.New(cfg, records, coordinator, uploads, log).Serve(ctx)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the invoiceflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("invoiceflow " + version)
		},
	}
}

func consoleLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}
