package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "colligo.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFilesDefaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, 100, config.Importer.BatchSize)
	assert.Equal(t, 400, config.Importer.LargeFeedBatchSize)
	assert.Equal(t, 3, config.Queue.MaxAttempts)
	assert.Equal(t, 5, config.Queue.Concurrency)
	assert.Equal(t, "0 * * * *", config.Scheduler.ImportSchedule)
}

func TestLoadFromFilesMergesAndOverrides(t *testing.T) {
	first := writeConfigFile(t, `
[server]
port = 9000

[importer]
batch_size = 50
`)
	second := filepath.Join(t.TempDir(), "override.toml")
	require.NoError(t, os.WriteFile(second, []byte(`
[server]
port = 9100
`), 0644))

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)

	// Later file wins; untouched keys keep the earlier/default values.
	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, 50, config.Importer.BatchSize)
	assert.Equal(t, 400, config.Importer.LargeFeedBatchSize)
}

func TestLoadFromFilesEnvOverrides(t *testing.T) {
	t.Setenv("COLLIGO_PORT", "9999")
	t.Setenv("COLLIGO_SOURCES", "https://a.example.com/feed, https://b.example.com/feed")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, []string{
		"https://a.example.com/feed",
		"https://b.example.com/feed",
	}, config.Importer.Sources)
}

func TestLoadFromFilesRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
[queue]
backoff_base = "soon"
`)

	_, err := LoadFromFiles(path)
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 7070, "0.0.0.0")
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	// Zero values leave the config untouched.
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}
