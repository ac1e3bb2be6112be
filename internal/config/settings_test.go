package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubestitch/tubestitch/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, DefaultDownloadDir, cfg.DownloadDir)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, DefaultCooldownDays, cfg.CooldownWindowDays())
	assert.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
	assert.Equal(t, DefaultFormat, cfg.Format)
	assert.Equal(t, DefaultFallbackFormat, cfg.FallbackFormat)
	assert.Equal(t, 30*time.Minute, cfg.ItemTimeout())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db_path: /data/custom.db
cooldown_days: 7
max_concurrency: 4
topics:
  cats:
    - cat
    - kitten
  dogs:
    - dog
sources:
  - name: Cat Channel
    url: https://www.youtube.com/playlist?list=PLcats123
logging:
  level: debug
  environment: production
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/custom.db", cfg.DBPath)
	assert.Equal(t, 7, cfg.CooldownWindowDays())
	assert.Equal(t, 4, cfg.MaxConcurrency)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultDownloadDir, cfg.DownloadDir)
	assert.Equal(t, DefaultFormat, cfg.Format)

	assert.Equal(t, []string{"cat", "kitten"}, cfg.Topics["cats"])
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "Cat Channel", cfg.Sources[0].Name)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "production", cfg.Logging.Environment)
}

func TestLoadExplicitZeroCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown_days: 0\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Zero means no cooldown and must survive the defaults pass.
	assert.Equal(t, 0, cfg.CooldownWindowDays())
}

func TestLoadNegativeCooldownResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown_days: -5\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCooldownDays, cfg.CooldownWindowDays())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(DBPathEnv, "/env/catalog.db")
	t.Setenv(DownloadDirEnv, "/env/downloads")
	t.Setenv(OutputDirEnv, "/env/outputs")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/catalog.db", cfg.DBPath)
	assert.Equal(t, "/env/downloads", cfg.DownloadDir)
	assert.Equal(t, "/env/outputs", cfg.OutputDir)
}

func TestKnownTopic(t *testing.T) {
	cfg := Config{Topics: map[string][]string{"cats": {"cat"}}}

	assert.True(t, cfg.KnownTopic("cats"))
	assert.True(t, cfg.KnownTopic(model.TopicWildcard))
	assert.False(t, cfg.KnownTopic("dogs"))
}

func TestTopicNamesSorted(t *testing.T) {
	cfg := Config{Topics: map[string][]string{
		"zebra": nil,
		"apple": nil,
		"mango": nil,
	}}

	assert.Equal(t, []string{"apple", "mango", "zebra"}, cfg.TopicNames())
}
