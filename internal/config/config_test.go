package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"planline/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default("proj-1")
	require.Equal(t, "proj-1", cfg.Project.ID)
	require.Equal(t, 10, cfg.Thresholds.LongLagDays)
	require.Equal(t, 44, cfg.Thresholds.LargeFloatDays)
	require.Equal(t, 20, cfg.Thresholds.LongDurationDays)
	require.Equal(t, 1000, cfg.Simulation.Iterations)
	require.Equal(t, int64(1), cfg.Simulation.Seed)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.True(t, cfg.Server.AllowLegacyActorHeader)
	require.NoError(t, cfg.Validate())
}

func TestGenerateDefaultParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("proj-2")))
	require.NoError(t, err)
	require.Equal(t, "proj-2", cfg.Project.ID)
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
project:
  id: bridge
thresholds:
  long_lag_days: 5
  large_float_days: 30
  long_duration_days: 15
simulation:
  iterations: 500
  seed: 7
  workers: 2
server:
  addr: ":9090"
`))
	require.NoError(t, err)
	require.Equal(t, "bridge", cfg.Project.ID)
	require.Equal(t, 5, cfg.Thresholds.LongLagDays)
	require.Equal(t, 500, cfg.Simulation.Iterations)
	require.Equal(t, int64(7), cfg.Simulation.Seed)
	require.Equal(t, 2, cfg.Simulation.Workers)
	require.Equal(t, ":9090", cfg.Server.Addr)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing project id",
			yaml: "simulation:\n  iterations: 10\n",
			want: "project.id",
		},
		{
			name: "negative threshold",
			yaml: "project:\n  id: p\nthresholds:\n  long_lag_days: -1\nsimulation:\n  iterations: 10\n",
			want: "non-negative",
		},
		{
			name: "zero iterations",
			yaml: "project:\n  id: p\n",
			want: "iterations",
		},
		{
			name: "negative workers",
			yaml: "project:\n  id: p\nsimulation:\n  iterations: 10\n  workers: -1\n",
			want: "workers",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("proj-3")), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, "proj-3", cfg.Project.ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "config init")
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir(), "proj-4")
	require.NoError(t, err)
	require.Equal(t, "proj-4", cfg.Project.ID)
	require.Equal(t, 1000, cfg.Simulation.Iterations)
}

func TestPath(t *testing.T) {
	require.Equal(t, filepath.Join("ws", "planline.yml"), config.Path("ws"))
	require.Equal(t, "planline.yml", config.Path(""))
}
