package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewave-dev/codewave/pkg/types"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, ".local", "share"))
	t.Setenv("CODEWAVE_CONFIG", "")
	t.Setenv("CODEWAVE_CONFIG_CONTENT", "")
	t.Setenv("CODEWAVE_DATA_DIR", "")
	t.Setenv("CODEWAVE_LOG_LEVEL", "")
	t.Setenv("CODEWAVE_WORKER_BACKEND", "")
	t.Setenv("CODEWAVE_PORT", "")
	return tmpDir
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.PersistDebounce())
	assert.Equal(t, 5*time.Minute, cfg.VisibilityTimeout())
	assert.Equal(t, 20*time.Second, cfg.LongPoll())
	assert.Equal(t, 1, cfg.MinWorkers())
	assert.Equal(t, 10, cfg.MaxWorkers())
	assert.Equal(t, 5, cfg.MessagesPerWorker())
	assert.Equal(t, 30*time.Second, cfg.OrchestratorInterval())
	assert.Equal(t, "local", cfg.Backend())
	assert.Contains(t, cfg.ExcludedDirs(), ".git")
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadProjectConfig(t *testing.T) {
	isolateEnv(t)
	projDir := t.TempDir()

	content := `{
		// queue tuning
		"queue": {
			"visibilityTimeoutSec": 60,
			"longPollSec": 5
		},
		"orchestrator": {
			"minWorkers": 2,
			"maxWorkers": 4
		},
		"worker": {"backend": "shell"}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "codewave.jsonc"), []byte(content), 0644))

	cfg, err := Load(projDir)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.VisibilityTimeout())
	assert.Equal(t, 5*time.Second, cfg.LongPoll())
	assert.Equal(t, 2, cfg.MinWorkers())
	assert.Equal(t, 4, cfg.MaxWorkers())
	assert.Equal(t, "shell", cfg.Backend())
}

func TestGlobalThenProjectPrecedence(t *testing.T) {
	tmpDir := isolateEnv(t)

	globalDir := filepath.Join(tmpDir, ".config", "codewave")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	global := `{"worker": {"backend": "shell"}, "orchestrator": {"maxWorkers": 3}}`
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "codewave.json"), []byte(global), 0644))

	projDir := t.TempDir()
	project := `{"worker": {"backend": "local"}}`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "codewave.json"), []byte(project), 0644))

	cfg, err := Load(projDir)
	require.NoError(t, err)

	// Project overrides global; untouched global values survive.
	assert.Equal(t, "local", cfg.Backend())
	assert.Equal(t, 3, cfg.MaxWorkers())
}

func TestEnvInterpolation(t *testing.T) {
	isolateEnv(t)
	projDir := t.TempDir()
	t.Setenv("CODEWAVE_TEST_DATA_DIR", "/srv/codewave-data")

	content := `{"dataDir": "{env:CODEWAVE_TEST_DATA_DIR}"}`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "codewave.json"), []byte(content), 0644))

	cfg, err := Load(projDir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/codewave-data", cfg.DataDir)
}

func TestInlineConfigContent(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CODEWAVE_CONFIG_CONTENT", `{"sync": {"persistDebounceMs": 500}}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.PersistDebounce())
}

func TestEnvOverridesWin(t *testing.T) {
	isolateEnv(t)
	projDir := t.TempDir()

	content := `{"worker": {"backend": "shell"}, "server": {"port": 9000}}`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "codewave.json"), []byte(content), 0644))

	t.Setenv("CODEWAVE_WORKER_BACKEND", "local")
	t.Setenv("CODEWAVE_PORT", "9100")

	cfg, err := Load(projDir)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Backend())
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestSaveRoundTrip(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "codewave.json")

	cfg := &types.Config{
		Worker: &types.WorkerConfig{Backend: "shell"},
		Queue:  &types.QueueConfig{LongPollSec: 7},
	}
	require.NoError(t, Save(cfg, path))

	loaded := &types.Config{}
	require.NoError(t, loadConfigFile(path, loaded, dir))
	assert.Equal(t, "shell", loaded.Backend())
	assert.Equal(t, 7*time.Second, loaded.LongPoll())
}
