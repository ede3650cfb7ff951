package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsTightTimeout(t *testing.T) {
	cfg := Default()
	cfg.LockTTL = 10 * time.Second
	cfg.TimeoutRPC = 10 * time.Second
	require.Error(t, cfg.Validate())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vactor.conf")
	content := "" +
		"# comment line\n" +
		"// another comment style\n" +
		"\n" +
		"app_id = custom-app\n" +
		"transport = nats\n" +
		"nats.hosts = n1, n2\n" +
		"nats.base_port = 4222\n" +
		"capacity.widget = 42\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "custom-app", cfg.AppID)
	require.Equal(t, "nats", cfg.Transport)
	require.Equal(t, []string{"n1", "n2"}, cfg.NATS.Hosts)
	require.Equal(t, 4222, cfg.NATS.BasePort)
	require.Equal(t, 42, cfg.CapacityFor("widget"))
	// Unset fields retain Default()'s values.
	require.Equal(t, Default().DefaultCapacity, cfg.DefaultCapacity)
}

func TestLoadFromFileRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vactor.conf")
	require.NoError(t, os.WriteFile(path, []byte("bogus_key = 1\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	cfg := Default()
	t.Setenv("VACTOR_APP_ID", "env-app")
	t.Setenv("VACTOR_TRANSPORT", "nats")
	LoadFromEnv(cfg)
	require.Equal(t, "env-app", cfg.AppID)
	require.Equal(t, "nats", cfg.Transport)
}

func TestCapacityForFallsBackToDefault(t *testing.T) {
	cfg := Default()
	cfg.Capacities = []ActorCapacity{{ActorType: "widget", Capacity: 5}}
	require.Equal(t, 5, cfg.CapacityFor("widget"))
	require.Equal(t, cfg.DefaultCapacity, cfg.CapacityFor("other"))
}
