package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
detect:
  sys_root: /tmp/sys
  rescan_delay: 500ms
  labels:
    - vendor: "1bbb"
      product: "0017"
      interface: "05"
      label: modem
hotplug:
  devfs_fallback: true
serial:
  init_at_commands: ["AT+CFUN=1"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sys", cfg.Detect.SysRoot)
	assert.Equal(t, "/dev", cfg.Detect.DevRoot)
	assert.Equal(t, 20, cfg.Detect.MaxDepth)
	assert.Equal(t, []string{"ttyACM", "ttyUSB", "ttyHS"}, cfg.Detect.TTYPrefixes)
	assert.Equal(t, 500*time.Millisecond, cfg.Detect.RescanDelayDuration())
	require.Len(t, cfg.Detect.Labels, 1)
	assert.Equal(t, "modem", cfg.Detect.Labels[0].Label)
	assert.Equal(t, "05", cfg.Detect.Labels[0].Interface)

	assert.True(t, cfg.Hotplug.Enabled)
	assert.True(t, cfg.Hotplug.DevfsFallback)
	assert.Equal(t, 64, cfg.Hotplug.Buffer)

	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, []string{"AT+CFUN=1"}, cfg.Serial.InitATCommands)
	assert.Equal(t, "mcc_mnc.json", cfg.Serial.OperatorsFile)
	assert.Equal(t, 2*time.Second, cfg.Serial.ProbeTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Serial.PollIntervalDuration())

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":8080", cfg.Server.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \":8081\"\n"), 0o644))
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	assert.Equal(t, 3*time.Second, DetectConfig{RescanDelay: "soon"}.RescanDelayDuration())
	assert.Equal(t, time.Second, SerialConfig{PollInterval: "10ms"}.PollIntervalDuration())
	assert.Equal(t, 2*time.Second, SerialConfig{ProbeTimeout: "-1s"}.ProbeTimeoutDuration())
}
