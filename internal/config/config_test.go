package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	apperr "github.com/mcpflow/mcpflow/internal/errors"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".mcpflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaultLoader_Load(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[[servers]]
name = "time-server"
command = "uvx"
args = ["mcp-server-time"]
timeout = "10s"
retries = 5
health_interval = "1m"
auto_restart = true

[servers.env]
TZ = "UTC"

[[servers]]
name = "fetch-server"
command = "uvx"
args = ["mcp-server-fetch"]

[health]
interval = "15s"
failure_threshold = 2
restart_cooldown = "1m"
`)

	cfg, err := (&DefaultLoader{}).Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	ts := cfg.Servers[0]
	require.Equal(t, "time-server", ts.Name)
	require.Equal(t, "uvx", ts.Command)
	require.Equal(t, []string{"mcp-server-time"}, ts.Args)
	require.Equal(t, map[string]string{"TZ": "UTC"}, ts.Env)
	require.Equal(t, 10*time.Second, ts.Timeout.Std())
	require.Equal(t, 5, ts.Retries)
	require.Equal(t, time.Minute, ts.HealthInterval.Std())
	require.True(t, ts.AutoRestart)

	require.Equal(t, 15*time.Second, cfg.Health.Interval.Std())
	require.Equal(t, 2, cfg.Health.FailureThreshold)
	require.Equal(t, time.Minute, cfg.Health.RestartCooldown.Std())
}

func TestDefaultLoader_Load_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[[servers]]
name = "time-server"
command = "uvx"
`)

	cfg, err := (&DefaultLoader{}).Load(path)
	require.NoError(t, err)

	s := cfg.Servers[0]
	require.Equal(t, DefaultCallTimeout, s.Timeout.Std())
	require.Equal(t, DefaultRetries, s.Retries)
	require.Equal(t, DefaultHealthInterval, s.HealthInterval.Std())
	require.False(t, s.AutoRestart)

	require.Equal(t, DefaultHealthInterval, cfg.Health.Interval.Std())
	require.Equal(t, DefaultCheckTimeout, cfg.Health.CheckTimeout.Std())
	require.Equal(t, DefaultFailureThreshold, cfg.Health.FailureThreshold)
	require.Equal(t, DefaultRestartCooldown, cfg.Health.RestartCooldown.Std())
	require.Equal(t, DefaultResponseAlarm, cfg.Health.ResponseAlarm.Std())
	require.Equal(t, DefaultWindowSize, cfg.Health.WindowSize)
}

func TestDefaultLoader_Load_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name: "duplicate server names",
			contents: `
[[servers]]
name = "time-server"
command = "uvx"

[[servers]]
name = "time-server"
command = "npx"
`,
			wantErr: "duplicate server name",
		},
		{
			name: "missing command",
			contents: `
[[servers]]
name = "time-server"
`,
			wantErr: "command cannot be empty",
		},
		{
			name: "missing name",
			contents: `
[[servers]]
command = "uvx"
`,
			wantErr: "name cannot be empty",
		},
		{
			name: "negative retries",
			contents: `
[[servers]]
name = "time-server"
command = "uvx"
retries = -1
`,
			wantErr: "retries cannot be negative",
		},
		{
			name: "malformed duration",
			contents: `
[[servers]]
name = "time-server"
command = "uvx"
timeout = "not-a-duration"
`,
			wantErr: "failed to decode",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tc.contents)
			_, err := (&DefaultLoader{}).Load(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDefaultLoader_Load_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := (&DefaultLoader{}).Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")

	_, err = (&DefaultLoader{}).Load("   ")
	require.Error(t, err)
}

func TestConfig_Server(t *testing.T) {
	t.Parallel()

	cfg := &Config{Servers: []ServerConfig{
		{Name: "alpha", Command: "uvx"},
		{Name: "beta", Command: "npx"},
	}}

	s, err := cfg.Server("beta")
	require.NoError(t, err)
	require.Equal(t, "npx", s.Command)

	_, err = cfg.Server("gamma")
	require.ErrorIs(t, err, apperr.ErrServerNotFound)
}

func TestDuration_TextRoundTrip(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	require.Equal(t, 90*time.Minute, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1h30m0s", string(text))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	var wrapper struct {
		Timeout Duration `yaml:"timeout"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 45s"), &wrapper))
	require.Equal(t, 45*time.Second, wrapper.Timeout.Std())

	require.Error(t, yaml.Unmarshal([]byte("timeout: whenever"), &wrapper))
}
