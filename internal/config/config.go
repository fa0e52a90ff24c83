// Package config centralizes how invoiceflow reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kaiwenliu/invoiceflow/internal/mailer"
)

// Config represents runtime configuration for the service.
type Config struct {
	Address     string
	MaxFileSize int64
	UploadDir   string
	// Workers caps concurrent file pipelines; zero or less means every
	// eligible file is dispatched at once.
	Workers int

	GeminiProject string
	GeminiRegion  string
	GeminiModel   string

	// Recipients are preset addresses offered next to free-form recipient
	// input, parsed from "name:email" pairs.
	Recipients []mailer.Recipient
}

const (
	defaultAddress     = ":8080"
	defaultMaxFileSize = 25 << 20 // 25 MiB
	defaultGeminiModel = "gemini-2.5-flash"
	defaultRegion      = "asia-east1"
)

// Load reads configuration from environment variables falling back to
// defaults. Only the Gemini project has no default: without it the extractor
// cannot be constructed, and Load says so instead of failing later mid-batch.
func Load() (*Config, error) {
	cfg := &Config{
		Address:       readEnv("INVOICEFLOW_ADDRESS", defaultAddress),
		MaxFileSize:   parseInt64("INVOICEFLOW_MAX_FILE_BYTES", defaultMaxFileSize),
		UploadDir:     readEnv("INVOICEFLOW_UPLOAD_DIR", filepath.Join(os.TempDir(), "invoiceflow")),
		Workers:       parseInt("INVOICEFLOW_WORKERS", 0),
		GeminiProject: readEnv("INVOICEFLOW_GEMINI_PROJECT", ""),
		GeminiRegion:  readEnv("INVOICEFLOW_GEMINI_REGION", defaultRegion),
		GeminiModel:   readEnv("INVOICEFLOW_GEMINI_MODEL", defaultGeminiModel),
		Recipients:    parseRecipients(readEnv("INVOICEFLOW_RECIPIENTS", "")),
	}
	if cfg.GeminiProject == "" {
		return nil, fmt.Errorf("INVOICEFLOW_GEMINI_PROJECT must be set")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

// parseRecipients reads a comma list of "name:email" pairs. Malformed pairs
// are skipped rather than failing startup; presets are a convenience.
func parseRecipients(raw string) []mailer.Recipient {
	if raw == "" {
		return nil
	}
	var out []mailer.Recipient
	for _, pair := range strings.Split(raw, ",") {
		name, email, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || email == "" {
			continue
		}
		out = append(out, mailer.Recipient{Name: name, Email: email})
	}
	return out
}
