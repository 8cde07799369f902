package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func loadTestConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.NoError(t, err)
	return path
}

func TestLoadDefaults(t *testing.T) {
	loadTestConfig(t, "")

	c := Get()
	require.Equal(t, ":8080", c.Server.ListenAddress)
	require.False(t, c.Zones.Orchestration.Enabled)
	require.Equal(t, 5, c.Zones.Orchestration.PriorityDelaySeconds)
	require.Equal(t, "continue", c.Zones.Orchestration.ShutdownFailurePolicy)
	require.Equal(t, 30, c.Retention.StorageDays)
	require.Equal(t, 4, c.TaskEngine.Workers)
	require.Equal(t, 8000, c.VNC.PortRangeStart)
	require.Equal(t, 8100, c.VNC.PortRangeEnd)
	require.Equal(t, 1800, c.VNC.SessionTimeoutSeconds)
}

func TestLoadOverrides(t *testing.T) {
	loadTestConfig(t, `
server:
  listen_address: ":9090"
zones:
  orchestration:
    enabled: true
    priority_delay_seconds: 12
task_engine:
  workers: 8
`)

	c := Get()
	require.Equal(t, ":9090", c.Server.ListenAddress)
	require.True(t, c.Zones.Orchestration.Enabled)
	require.Equal(t, 12, c.Zones.Orchestration.PriorityDelaySeconds)
	require.Equal(t, 8, c.TaskEngine.Workers)
}

// SetOrchestrationEnabled must persist atomically: the flag survives a
// fresh Load and no .tmp residue is left behind.
func TestSetOrchestrationEnabledPersists(t *testing.T) {
	path := loadTestConfig(t, "")

	require.NoError(t, SetOrchestrationEnabled(true))
	require.True(t, Get().Zones.Orchestration.Enabled)

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk Config
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	require.True(t, onDisk.Zones.Orchestration.Enabled)

	require.NoError(t, SetOrchestrationEnabled(false))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	require.False(t, onDisk.Zones.Orchestration.Enabled)
}

func TestSetArtifactPathsPersists(t *testing.T) {
	path := loadTestConfig(t, "")

	require.NoError(t, SetArtifactPaths([]string{"/data/artifacts", "/tank/iso"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk Config
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	require.Equal(t, []string{"/data/artifacts", "/tank/iso"}, onDisk.ArtifactStorage.Paths)
}
