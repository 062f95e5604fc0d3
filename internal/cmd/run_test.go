package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestCollectRunInputs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "scans", "b.pdf"))
	touch(t, filepath.Join(dir, "scans", "a.pdf"))
	extra := filepath.Join(dir, "loose", "c.png")
	touch(t, extra)

	manifestPath := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`version: "1"
inputs:
  - scans/*.pdf
options:
  formats: [md, docx]
  file_options:
    scans/a.pdf:
      start: 2
export: s3://archive/ocr
`), 0644))

	defaults := pipeline.DefaultRunOptions()

	t.Run("manifest and args", func(t *testing.T) {
		inputs, opts, exportTo, err := collectRunInputs(manifestPath, []string{extra}, defaults)
		require.NoError(t, err)

		assert.Equal(t, []string{
			filepath.Join(dir, "scans", "a.pdf"),
			filepath.Join(dir, "scans", "b.pdf"),
			extra,
		}, inputs)
		assert.Equal(t, []string{"md", "docx"}, opts.Formats)
		assert.Equal(t, "s3://archive/ocr", exportTo)

		fo, ok := opts.ForInput(filepath.Join(dir, "scans", "a.pdf"))
		require.True(t, ok)
		require.NotNil(t, fo.Start)
		assert.Equal(t, 2, *fo.Start)
	})

	t.Run("args only keep defaults", func(t *testing.T) {
		inputs, opts, exportTo, err := collectRunInputs("", []string{extra}, defaults)
		require.NoError(t, err)
		assert.Equal(t, []string{extra}, inputs)
		assert.Equal(t, defaults, opts)
		assert.Empty(t, exportTo)
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, _, _, err := collectRunInputs(filepath.Join(dir, "nope.yaml"), nil, defaults)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "manifest file not found")
	})

	t.Run("glob matching nothing", func(t *testing.T) {
		_, _, _, err := collectRunInputs("", []string{filepath.Join(dir, "*.tiff")}, defaults)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pattern matched no files")
	})
}

func newRunTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "run"}
	registerRunFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestApplyRunFlags(t *testing.T) {
	inputs := []string{"/in/a.pdf", "/in/b.pdf"}

	t.Run("no flags keep options", func(t *testing.T) {
		opts := pipeline.DefaultRunOptions()
		require.NoError(t, applyRunFlags(newRunTestCmd(t), inputs, &opts))
		assert.Equal(t, pipeline.DefaultRunOptions(), opts)
	})

	t.Run("overrides", func(t *testing.T) {
		opts := pipeline.DefaultRunOptions()
		c := newRunTestCmd(t,
			"--formats", "md,docx",
			"--figure=false",
			"--gpu",
			"--chunk-size", "5",
			"--rest", "3",
			"--pdf-dpi", "300",
			"--mode", "fast",
			"--start", "2",
			"--end", "4",
		)
		require.NoError(t, applyRunFlags(c, inputs, &opts))

		assert.Equal(t, []string{"md", "docx"}, opts.Formats)
		assert.False(t, opts.EnableFigure)
		assert.True(t, opts.UseGPU)
		assert.Equal(t, "fast", opts.Mode)
		require.NotNil(t, opts.ChunkSize)
		assert.Equal(t, 5, *opts.ChunkSize)
		assert.True(t, opts.EnableRest)
		require.NotNil(t, opts.PDFDPI)
		assert.Equal(t, 300, *opts.PDFDPI)

		for _, in := range inputs {
			fo, ok := opts.ForInput(in)
			require.True(t, ok, in)
			assert.Equal(t, 2, *fo.Start)
			assert.Equal(t, 4, *fo.End)
		}
	})

	t.Run("start only keeps manifest end", func(t *testing.T) {
		end := 9
		opts := pipeline.RunOptions{FileOptions: map[string]pipeline.FileOptions{"/in/a.pdf": {End: &end}}}
		require.NoError(t, applyRunFlags(newRunTestCmd(t, "--start", "3"), inputs, &opts))

		fo, _ := opts.ForInput("/in/a.pdf")
		assert.Equal(t, 3, *fo.Start)
		assert.Equal(t, 9, *fo.End)
	})

	t.Run("end before start", func(t *testing.T) {
		opts := pipeline.DefaultRunOptions()
		err := applyRunFlags(newRunTestCmd(t, "--start", "5", "--end", "2"), inputs, &opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not be before")
		assert.Equal(t, foundry.ExitInvalidArgument, apperrors.ExitCodeFor(err))
	})
}

type scriptedWatcher struct {
	snapshots []service.Progress
	calls     int
	result    service.Result
	err       error
}

func (w *scriptedWatcher) GetProgress(string) (service.Progress, error) {
	if w.err != nil {
		return service.Progress{}, w.err
	}
	i := min(w.calls, len(w.snapshots)-1)
	w.calls++
	return w.snapshots[i], nil
}

func (w *scriptedWatcher) GetResult(string) (service.Result, error) {
	return w.result, nil
}

func TestFollowJob(t *testing.T) {
	t.Run("echoes new lines once", func(t *testing.T) {
		w := &scriptedWatcher{
			snapshots: []service.Progress{
				{Status: jobregistry.StatusRunning, Progress: 0, Log: []string{"job started"}},
				{Status: jobregistry.StatusRunning, Progress: 40, Log: []string{"job started", "[1/2] a.pdf"}},
				{Status: jobregistry.StatusRunning, Progress: 40, Log: []string{"job started", "[1/2] a.pdf"}},
				{Status: jobregistry.StatusDone, Progress: 100, Log: []string{"job started", "[1/2] a.pdf", "done"}},
			},
			result: service.Result{ID: "j", Status: jobregistry.StatusDone, Outputs: []string{"a_merged.md"}},
		}

		var out bytes.Buffer
		res, err := followJob(context.Background(), &out, w, "j", time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "job started\n[1/2] a.pdf\ndone\n", out.String())
		assert.Equal(t, []string{"a_merged.md"}, res.Outputs)
		assert.Equal(t, 4, w.calls)
	})

	t.Run("lookup error", func(t *testing.T) {
		w := &scriptedWatcher{err: errors.New("job not found")}
		_, err := followJob(context.Background(), &bytes.Buffer{}, w, "j", time.Millisecond)
		assert.EqualError(t, err, "job not found")
	})

	t.Run("cancelled", func(t *testing.T) {
		w := &scriptedWatcher{snapshots: []service.Progress{{Status: jobregistry.StatusRunning}}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := followJob(ctx, &bytes.Buffer{}, w, "j", time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type copyCall struct {
	filename    string
	destination string
}

type recordingExporter struct {
	calls []copyCall
	err   error
}

func (e *recordingExporter) ResolveAndCopyOutput(_ context.Context, _, filename, destination string) error {
	e.calls = append(e.calls, copyCall{filename, destination})
	return e.err
}

func TestExportOutputs(t *testing.T) {
	outputs := []string{"a_merged.md", "a.docx"}

	t.Run("local directory", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "out", "nested")
		e := &recordingExporter{}

		require.NoError(t, exportOutputs(context.Background(), e, "j", outputs, target))
		assert.DirExists(t, target)
		assert.Equal(t, []copyCall{
			{"a_merged.md", filepath.Join(target, "a_merged.md")},
			{"a.docx", filepath.Join(target, "a.docx")},
		}, e.calls)
	})

	t.Run("s3 prefix", func(t *testing.T) {
		e := &recordingExporter{}
		require.NoError(t, exportOutputs(context.Background(), e, "j", outputs, "s3://archive/ocr"))
		assert.Equal(t, []copyCall{
			{"a_merged.md", "s3://archive/ocr/"},
			{"a.docx", "s3://archive/ocr/"},
		}, e.calls)
	})

	t.Run("stops at first failure", func(t *testing.T) {
		e := &recordingExporter{err: errors.New("access denied")}
		err := exportOutputs(context.Background(), e, "j", outputs, "s3://archive/")
		assert.EqualError(t, err, "access denied")
		assert.Len(t, e.calls, 1)
	})
}
