package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mdblog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MDBLOG_GENERATION_PROVIDER", "local")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./posts", cfg.Paths.MarkdownRoot)
	assert.Equal(t, ".md", cfg.Paths.Extension)
	assert.Equal(t, 5*time.Second, cfg.Watch.QuietWindow)
	assert.Equal(t, time.Second, cfg.Watch.RenameWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Scan.ItemDelay)
	assert.True(t, cfg.ScanOnStartup())
	assert.Equal(t, 2*time.Minute, cfg.Generation.Timeout)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
	assert.Equal(t, "warning", cfg.Generation.ValidationMode)
	assert.False(t, cfg.Publishing.AutoPublish)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
paths:
  markdown_root: /srv/posts
watch:
  quiet_window: 2s
scan:
  on_startup: false
generation:
  provider: openai
  api_key: from-file
  validation_mode: strict
  recommended_resources:
    - https://cdn.example.com/style.css
publishing:
  auto_publish: true
`)
	t.Setenv("MDBLOG_GENERATION_API_KEY", "from-env")
	t.Setenv("MDBLOG_QUIET_WINDOW", "750ms")
	t.Setenv("MDBLOG_ALLOWED_SCRIPT_ORIGINS", "https://cdn.example.com, https://unpkg.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/posts", cfg.Paths.MarkdownRoot)
	assert.Equal(t, 750*time.Millisecond, cfg.Watch.QuietWindow)
	assert.False(t, cfg.ScanOnStartup())
	assert.Equal(t, "from-env", cfg.Generation.APIKey)
	assert.Equal(t, "strict", cfg.Generation.ValidationMode)
	assert.Equal(t, []string{"https://cdn.example.com/style.css"}, cfg.Generation.RecommendedResources)
	assert.Equal(t, []string{"https://cdn.example.com", "https://unpkg.com"}, cfg.Generation.AllowedScriptOrigins)
	assert.True(t, cfg.Publishing.AutoPublish)
}

func TestLoad_InvalidEnvValueIsIgnored(t *testing.T) {
	t.Setenv("MDBLOG_GENERATION_PROVIDER", "local")
	t.Setenv("MDBLOG_GENERATION_MAX_ATTEMPTS", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown provider", "generation:\n  provider: carrier-pigeon\n", "unknown generation.provider"},
		{"openai without credentials", "generation:\n  provider: openai\n", "api_key or generation.base_url"},
		{"bad validation mode", "generation:\n  provider: local\n  validation_mode: lenient\n", "validation_mode"},
		{"extension without dot", "paths:\n  extension: md\ngeneration:\n  provider: local\n", "must start with a dot"},
		{"bad log format", "generation:\n  provider: local\nlog:\n  format: xml\n", "log.format"},
		{"not yaml", "generation: [\n", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
