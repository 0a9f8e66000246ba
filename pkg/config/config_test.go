package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "masterd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func TestLoadDefaultsWithoutFileOrFlags(t *testing.T) {
	loader, err := NewLoader("", nil)
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, ":4050", cfg.ControlAddr)
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Equal(t, "/tmp", cfg.IPCDir)
	require.False(t, cfg.Respawn)
	require.Equal(t, 4, cfg.ThreadPoolSize)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadReadsValuesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
control_addr: ":5050"
ipc_dir: /var/run/masterd
job_timeout: 90s
respawn: true
dns_suffix: .internal
thread_pool_size: 8
`)

	loader, err := NewLoader(path, nil)
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, ":5050", cfg.ControlAddr)
	require.Equal(t, "/var/run/masterd", cfg.IPCDir)
	require.Equal(t, 90*time.Second, cfg.JobTimeout)
	require.True(t, cfg.Respawn)
	require.Equal(t, ".internal", cfg.DNSSuffix)
	require.Equal(t, 8, cfg.ThreadPoolSize)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	loader, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, ":4050", cfg.ControlAddr)
}

func startFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	flags.String("control-addr", ":4050", "")
	flags.String("metrics-addr", ":9090", "")
	flags.String("ipc-dir", "/tmp", "")
	flags.String("workflow-checksum", "", "")
	flags.Duration("job-timeout", 2*time.Minute, "")
	flags.Bool("respawn", false, "")
	flags.String("dns-suffix", "", "")
	flags.Int("thread-pool-size", 4, "")
	flags.String("log-level", "info", "")
	flags.Bool("log-json", false, "")
	return flags
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, `
control_addr: ":5050"
thread_pool_size: 8
`)

	flags := startFlags()
	require.NoError(t, flags.Set("control-addr", ":6060"))
	require.NoError(t, flags.Set("respawn", "true"))

	loader, err := NewLoader(path, flags)
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	// Flag wins over file.
	require.Equal(t, ":6060", cfg.ControlAddr)
	require.True(t, cfg.Respawn)
	// File value survives where no flag was set explicitly: viper only
	// takes a bound flag's value when the flag has changed, so the file's
	// thread_pool_size (8) wins over the unchanged flag default (4).
	require.Equal(t, 8, cfg.ThreadPoolSize)
}

func TestDashedFlagNamesBindToUnderscoredKeys(t *testing.T) {
	flags := startFlags()
	require.NoError(t, flags.Set("workflow-checksum", "abc123"))
	require.NoError(t, flags.Set("dns-suffix", ".lan"))
	require.NoError(t, flags.Set("job-timeout", "45s"))

	loader, err := NewLoader("", flags)
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	require.Equal(t, "abc123", cfg.WorkflowCksum)
	require.Equal(t, ".lan", cfg.DNSSuffix)
	require.Equal(t, 45*time.Second, cfg.JobTimeout)
}

func TestNewLoaderRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "control_addr: [this is not: valid")

	_, err := NewLoader(path, nil)
	require.Error(t, err)
}

func TestWatchReloadFiresOnFileChange(t *testing.T) {
	path := writeConfigFile(t, `job_timeout: 30s`)

	loader, err := NewLoader(path, nil)
	require.NoError(t, err)

	changed := make(chan Config, 1)
	loader.WatchReload(func(cfg Config) {
		changed <- cfg
	})

	require.NoError(t, os.WriteFile(path, []byte(`
job_timeout: 5m
respawn: true
`), 0644))

	select {
	case cfg := <-changed:
		require.Equal(t, 5*time.Minute, cfg.JobTimeout)
		require.True(t, cfg.Respawn)
	case <-time.After(5 * time.Second):
		t.Fatal("onChange was never called after config file rewrite")
	}
}
