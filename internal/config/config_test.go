package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
server:
  port: 9090
  host: 127.0.0.1
sources:
  - name: local-docs
    type: file
    paths: ["docs"]
    enabled: true
    priority: 1
    timeout_ms: 5000
    max_retries: 2
cache:
  enabled: true
  strategy: hybrid
  content_types:
    runbooks:
      ttl_seconds: 900
      warmup: true
`

func TestLoadMinimalConfig(t *testing.T) {
	path := writeTempYAML(t, minimalConfig)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 100, cfg.Server.MaxConcurrent) // default preserved
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "local-docs", cfg.Sources[0].Name)
	assert.Equal(t, "hybrid", cfg.Cache.Strategy)
	assert.Equal(t, 900, cfg.Cache.ContentTypes["runbooks"].TTLSeconds)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory-only", cfg.Cache.Strategy)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsDuplicateSources(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Cache:  CacheConfig{Strategy: "memory-only"},
		Sources: []SourceConfig{
			{Name: "dup", Type: "file"},
			{Name: "dup", Type: "web"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindFatal, kind)
}

func TestValidateRejectsUnknownSourceType(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080},
		Cache:   CacheConfig{Strategy: "memory-only"},
		Sources: []SourceConfig{{Name: "x", Type: "carrier-pigeon"}},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Cache:  CacheConfig{Strategy: "quantum"},
	}
	require.Error(t, cfg.Validate())
}

func TestRelativePathResolution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "docs"), cfg.Sources[0].Paths[0])
}

func TestRelativePathResolutionFallsBackToParent(t *testing.T) {
	parent := t.TempDir()
	sub := filepath.Join(parent, "conf")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "docs"), 0o755))
	path := filepath.Join(sub, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(parent, "docs"), cfg.Sources[0].Paths[0])
}

func TestDomainSourcesConversion(t *testing.T) {
	path := writeTempYAML(t, minimalConfig)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	sources, err := cfg.DomainSources(nil, nil)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, domain.SourceTypeFile, sources[0].Type)
	assert.Equal(t, 2, sources[0].MaxRetries)
	assert.Equal(t, int64(5000), sources[0].CallTimeout.Milliseconds())
}

func TestAuthKindValidation(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Cache:  CacheConfig{Strategy: "memory-only"},
		Sources: []SourceConfig{{
			Name: "x", Type: "web",
			Auth: &AuthConfig{Kind: "blood-oath", EnvVars: []string{"X_TOKEN"}},
		}},
	}
	require.Error(t, cfg.Validate())

	cfg.Sources[0].Auth.Kind = "bearer"
	require.NoError(t, cfg.Validate())
}
