package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaiwenliu/invoiceflow/internal/mailer"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INVOICEFLOW_GEMINI_PROJECT", "my-project")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, int64(25<<20), cfg.MaxFileSize)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Equal(t, "asia-east1", cfg.GeminiRegion)
	assert.Empty(t, cfg.Recipients)
}

func TestLoadRequiresProject(t *testing.T) {
	t.Setenv("INVOICEFLOW_GEMINI_PROJECT", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INVOICEFLOW_GEMINI_PROJECT", "my-project")
	t.Setenv("INVOICEFLOW_ADDRESS", ":9000")
	t.Setenv("INVOICEFLOW_WORKERS", "4")
	t.Setenv("INVOICEFLOW_MAX_FILE_BYTES", "1024")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Address)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
}

func TestParseRecipients(t *testing.T) {
	t.Setenv("INVOICEFLOW_GEMINI_PROJECT", "my-project")
	t.Setenv("INVOICEFLOW_RECIPIENTS", "富元機電:fuhyuan.w5339@msa.hinet.net, broken, 測試:test@example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []mailer.Recipient{
		{Name: "富元機電", Email: "fuhyuan.w5339@msa.hinet.net"},
		{Name: "測試", Email: "test@example.com"},
	}, cfg.Recipients)
}
