package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps Load away from the developer's real settings files.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv("OCRDOC_PROJECT_ROOT", t.TempDir())
	t.Setenv("PYTHON_BIN", "")
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
	return xdg
}

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		xdg := isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)

		assert.Equal(t, 0.90, cfg.Progress.OCRFraction)
		assert.Equal(t, 0.99, cfg.Progress.ExcelFraction)
		assert.Equal(t, 5, cfg.Progress.ETAWindow)
		assert.Equal(t, 99.0, cfg.Progress.MaxInferred)

		assert.True(t, cfg.Jobs.ArchiveEnabled)
		assert.Equal(t, filepath.Join(xdg, AppName, "jobs"), cfg.Jobs.ArchiveDir)

		assert.Equal(t, []string{"md"}, cfg.Defaults.Formats)
		assert.True(t, cfg.Defaults.EnableFigure)
		assert.Empty(t, cfg.Pipeline.Interpreter)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("OCRDOC_PORT", "3000")
		t.Setenv("OCRDOC_LOG_LEVEL", "WARN")
		t.Setenv("OCRDOC_PROGRESS_ETA_WINDOW", "8")
		t.Setenv("OCRDOC_DEFAULTS_FORMATS", "md,docx")
		t.Setenv("PYTHON_BIN", "/opt/py/bin/python3")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, 8, cfg.Progress.ETAWindow)
		assert.Equal(t, []string{"md", "docx"}, cfg.Defaults.Formats)
		assert.Equal(t, "/opt/py/bin/python3", cfg.Pipeline.Interpreter)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("OCRDOC_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("SettingsFileFromUserConfigDir", func(t *testing.T) {
		xdg := isolate(t)
		writeSettings(t, filepath.Join(xdg, AppName, "settings.yaml"), `
server:
  port: 7000
progress:
  ocr_fraction: 0.8
defaults:
  formats: [md, xlsx]
  chunk_size: 10
`)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, 0.8, cfg.Progress.OCRFraction)
		assert.Equal(t, []string{"md", "xlsx"}, cfg.Defaults.Formats)
		assert.Equal(t, 10, cfg.Defaults.ChunkSize)
	})

	t.Run("EnvBeatsSettingsFile", func(t *testing.T) {
		xdg := isolate(t)
		writeSettings(t, filepath.Join(xdg, AppName, "settings.yaml"), "server:\n  port: 7000\n")
		t.Setenv("OCRDOC_SERVER_PORT", "7100")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7100, cfg.Server.Port)
	})

	t.Run("ExplicitConfigFile", func(t *testing.T) {
		isolate(t)
		t.Setenv("OCRDOC_PROJECT_ROOT", "")
		path := filepath.Join(t.TempDir(), "custom.yaml")
		writeSettings(t, path, "project_root: /srv/ocr\nexport:\n  s3:\n    region: eu-west-1\n    force_path_style: true\n")
		SetConfigFile(path)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/srv/ocr", cfg.ProjectRoot)
		assert.Equal(t, "eu-west-1", cfg.Export.S3.Region)
		assert.True(t, cfg.Export.S3.ForcePathStyle)
		assert.Equal(t, "/srv/ocr", cfg.Environment().ProjectRoot)
	})

	t.Run("MissingExplicitConfigFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		isolate(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoad_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides map[string]any
		want      string
	}{
		{"bad level", map[string]any{"logging": map[string]any{"level": "loud"}}, "Level"},
		{"bad profile", map[string]any{"logging": map[string]any{"profile": "xml"}}, "Profile"},
		{"bad port", map[string]any{"server": map[string]any{"port": 70000}}, "Port"},
		{"bad fraction", map[string]any{"progress": map[string]any{"ocr_fraction": 1.5}}, "fraction"},
		{"empty formats", map[string]any{"defaults": map[string]any{"formats": []string{}}}, "Formats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("OCRDOC_READ_TIMEOUT", "45s")
	t.Setenv("OCRDOC_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{
		"server": map[string]any{"port": 9100},
	})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Server.Port, current.Server.Port)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]string)
	for _, spec := range specs {
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = spec.Path
	}
	assert.Equal(t, "logging.level", names["OCRDOC_LOG_LEVEL"])
	assert.Equal(t, "server.port", names["OCRDOC_PORT"])
	assert.Equal(t, "server.host", names["OCRDOC_HOST"])
	assert.Equal(t, "pipeline.interpreter", names["PYTHON_BIN"])
}

func TestDefaultsConfig_RunOptions(t *testing.T) {
	opts := DefaultsConfig{Formats: []string{"md"}, EnableFigure: true, ChunkSize: 10, RestSeconds: 5}.RunOptions()
	assert.Equal(t, []string{"md"}, opts.Formats)
	assert.True(t, opts.EnableFigure)
	require.NotNil(t, opts.ChunkSize)
	assert.Equal(t, 10, *opts.ChunkSize)
	assert.True(t, opts.EnableRest)
	require.NotNil(t, opts.RestSeconds)
	assert.Nil(t, opts.PDFDPI)
	require.NoError(t, opts.Validate())
}

func TestGetUserConfigPaths(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, []string{filepath.Join(xdg, AppName)}, getUserConfigPaths())
}
