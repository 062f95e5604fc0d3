package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

func TestPipelineHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		status     service.EnvironmentStatus
		err        error
		errContain string
	}{
		{
			name:   "dispatcher present",
			status: service.EnvironmentStatus{ProjectRoot: "/opt/ocr", DispatcherFound: true},
		},
		{
			name:       "dispatcher missing",
			status:     service.EnvironmentStatus{ProjectRoot: "/opt/ocr"},
			errContain: "pipeline dispatcher not found under /opt/ocr",
		},
		{
			name:       "environment unresolved",
			err:        errors.New("failed to resolve project root"),
			errContain: "failed to resolve project root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := pipelineHealthChecker{check: func() (service.EnvironmentStatus, error) {
				return tt.status, tt.err
			}}

			err := checker.CheckHealth(context.Background())
			if tt.errContain == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContain)
		})
	}
}

func TestArchiveHealthChecker(t *testing.T) {
	t.Run("disabled always passes", func(t *testing.T) {
		assert.NoError(t, archiveHealthChecker{}.CheckHealth(context.Background()))
	})

	t.Run("creates missing dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "jobs")
		require.NoError(t, archiveHealthChecker{enabled: true, dir: dir}.CheckHealth(context.Background()))
		assert.DirExists(t, dir)
	})

	t.Run("empty dir is an error", func(t *testing.T) {
		err := archiveHealthChecker{enabled: true}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("dir blocked by a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "jobs")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

		err := archiveHealthChecker{enabled: true, dir: filepath.Join(file, "sub")}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
	})
}
