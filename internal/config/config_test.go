package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "gpt-4o-mini", cfg.AssistantModel)
	assert.Equal(t, "Research Assistant Agent", cfg.AssistantName)
	assert.Equal(t, 10000, cfg.WebContentMaxChars)
	assert.Equal(t, "en", cfg.WikipediaLang)
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 9000\nweb_content_max_chars: 500\nlog_level: debug\n"), 0o600))

	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("TOOL_TIMEOUT_MS", "1500")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 500, cfg.WebContentMaxChars)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1500*time.Millisecond, cfg.ToolTimeout)
}

func TestLoadRejectsNonPositiveContentCap(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEB_CONTENT_MAX_CHARS", "0")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
