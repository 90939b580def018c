package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pergola.yaml")
	content := `log_level: debug
host_origin: https://app.example.com
origins:
  - https://tools.example.com
settle_delay: 750ms
call_timeout: 8s
families:
  records: 30s
http:
  address: ":9090"
redis:
  address: localhost:6379
  prefix: "bridge:"
catalog:
  path: ./manifests
  watch: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "https://app.example.com", cfg.HostOrigin)
	assert.Equal(t, []string{"https://tools.example.com"}, cfg.Origins)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "bridge:", cfg.Redis.Prefix)
	assert.Equal(t, "./manifests", cfg.Catalog.Path)
	assert.True(t, cfg.Catalog.Watch)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "./programs.yaml", cfg.Programs.Path)
	assert.True(t, cfg.Metrics.Enabled)

	settle, err := cfg.ParseSettleDelay()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, settle)

	timeout, err := cfg.ParseCallTimeout()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, timeout)

	families, err := cfg.FamilyTimeouts()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, families["records"])
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, slog.LevelInfo, cfg.Level())

	settle, err := cfg.ParseSettleDelay()
	require.NoError(t, err)
	assert.Zero(t, settle)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pergola.yaml")
	require.NoError(t, os.WriteFile(path, []byte("origins: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestBadDurationsSurfaceTheKey(t *testing.T) {
	cfg := Default()
	cfg.SettleDelay = "soon"
	_, err := cfg.ParseSettleDelay()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settle_delay")

	cfg.Families = map[string]string{"records": "half an hour"}
	_, err = cfg.FamilyTimeouts()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "families.records")
}

func TestUnknownLogLevelFallsBackToInfo(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "chatty"
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}
