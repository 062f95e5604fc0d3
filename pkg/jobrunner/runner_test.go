package jobrunner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
)

// fakeDispatcher mimics the pipeline's log vocabulary and writes a merged
// markdown file into result/<stem>. Inputs containing "bad" exit 2.
const fakeDispatcher = `in="$1"
name=$(basename "$in")
stem="${name%.*}"
case "$in" in
  *bad*) echo "cannot open $in" >&2; exit 2 ;;
esac
case "$in" in
  *slow*) sleep 0.3 ;;
esac
echo "処理範囲: 1〜2"
echo "--- Page 1/2 (abs 1/2) ---"
echo "--- Done 1/2 ---"
echo "model warning" >&2
echo "--- Page 2/2 (abs 2/2) ---"
echo "--- Done 2/2 ---"
echo "--- merged_md.py を実行 ---"
mkdir -p "result/$stem"
printf '# %s\n' "$stem" > "result/$stem/${stem}_merged.md"
`

func fakeEnv(t *testing.T) pipeline.Environment {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake pipeline uses /bin/sh")
	}
	root := t.TempDir()
	entry := filepath.Join(root, "dispatcher.sh")
	require.NoError(t, os.WriteFile(entry, []byte(fakeDispatcher), 0o755))
	return pipeline.Environment{
		ProjectRoot: root,
		Entry:       entry,
		Interpreter: "/bin/sh",
		GPUDevice:   "cpu",
	}
}

func newRunner(t *testing.T, opts ...Option) (*Runner, *jobregistry.Registry) {
	reg := jobregistry.New()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(reg, opts...), reg
}

func TestRunner_SingleFileSuccess(t *testing.T) {
	env := fakeEnv(t)
	r, reg := newRunner(t)

	id, err := r.Start(env, []string{"/in/report.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)
	r.Wait()

	job, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusDone, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, []string{"report_merged.md"}, job.Outputs)
	require.NotNil(t, job.Preview)
	assert.Equal(t, "# report\n", *job.Preview)
	assert.Nil(t, job.Error)
	assert.Nil(t, job.ETASeconds)

	require.GreaterOrEqual(t, len(job.Log), 3)
	assert.Equal(t, "job started", job.Log[0])
	assert.True(t, strings.HasPrefix(job.Log[1], "spawn: /bin/sh -u "), job.Log[1])
	assert.Contains(t, job.Log, "[err] model warning")
	assert.Contains(t, job.Log, "--- Done 2/2 ---")
	assert.Contains(t, job.Log, "--- merged_md.py を実行 ---")
}

func TestRunner_StartReturnsBeforeCompletion(t *testing.T) {
	env := fakeEnv(t)
	r, reg := newRunner(t)

	id, err := r.Start(env, []string{"/in/slow.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)

	job, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusRunning, job.Status)

	r.Wait()
	job, err = reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusDone, job.Status)
}

func TestRunner_FailureAbortsBatch(t *testing.T) {
	env := fakeEnv(t)
	r, reg := newRunner(t)

	id, err := r.Start(env, []string{"/in/ok.pdf", "/in/bad.pdf", "/in/never.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)
	r.Wait()

	job, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "pipeline failed (non-zero exit code 2)", *job.Error)
	assert.Empty(t, job.Outputs)
	assert.Nil(t, job.Preview)
	assert.InDelta(t, 100.0/3.0, job.Progress, 1e-9)
	assert.Contains(t, job.Log, "[err] cannot open /in/bad.pdf")
	for _, line := range job.Log {
		assert.NotContains(t, line, "never.pdf")
	}
}

func TestRunner_SpawnFailure(t *testing.T) {
	env := fakeEnv(t)
	env.Interpreter = filepath.Join(t.TempDir(), "no-such-python")
	r, reg := newRunner(t)

	id, err := r.Start(env, []string{"/in/a.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)
	r.Wait()

	job, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusError, job.Status)
	require.NotNil(t, job.Error)
	assert.True(t, strings.HasPrefix(*job.Error, "failed to spawn pipeline: "), *job.Error)
}

func TestRunner_PreviewFallbackWithoutMarkdown(t *testing.T) {
	env := fakeEnv(t)
	r, reg := newRunner(t)

	opts := pipeline.DefaultRunOptions()
	opts.Formats = []string{"docx"}
	id, err := r.Start(env, []string{"/in/a.pdf", "/in/b.pdf"}, opts)
	require.NoError(t, err)
	r.Wait()

	job, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusDone, job.Status)
	assert.Empty(t, job.Outputs)
	require.NotNil(t, job.Preview)
	assert.Equal(t, "Converted markdown for: /in/a.pdf, /in/b.pdf (md preview not found)", *job.Preview)
}

func TestRunner_TerminalJobIgnoresLateUpdates(t *testing.T) {
	env := fakeEnv(t)
	r, reg := newRunner(t)

	id, err := r.Start(env, []string{"/in/a.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)
	r.Wait()

	before, err := reg.Get(id)
	require.NoError(t, err)
	r.mutate(id, func(j *jobregistry.Job) {
		j.AppendLog("late")
		j.Status = jobregistry.StatusRunning
	})
	after, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunner_ArchivesTerminalSnapshot(t *testing.T) {
	env := fakeEnv(t)
	store := jobregistry.NewStore(t.TempDir())
	r, _ := newRunner(t, WithArchive(store))

	id, err := r.Start(env, []string{"/in/a.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)
	r.Wait()

	archived, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobregistry.StatusDone, archived.Status)
	assert.Equal(t, []string{"a_merged.md"}, archived.Outputs)
}

func TestRunner_ConcurrentJobs(t *testing.T) {
	env := fakeEnv(t)
	var mu sync.Mutex
	n := 0
	r, reg := newRunner(t, WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job-%d", n)
	}))

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := r.Start(env, []string{fmt.Sprintf("/in/doc%d.pdf", i)}, pipeline.DefaultRunOptions())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	r.Wait()

	for i, id := range ids {
		job, err := reg.Get(id)
		require.NoError(t, err)
		assert.Equal(t, jobregistry.StatusDone, job.Status, id)
		assert.Equal(t, []string{fmt.Sprintf("doc%d_merged.md", i)}, job.Outputs, id)
	}
}

func TestRunner_ProgressNeverRegresses(t *testing.T) {
	env := fakeEnv(t)
	r, reg := newRunner(t)

	id, err := r.Start(env, []string{"/in/a.pdf", "/in/b.pdf"}, pipeline.DefaultRunOptions())
	require.NoError(t, err)

	last := 0.0
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := reg.Get(id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, job.Progress, last)
		last = job.Progress
		if job.Status.Terminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	r.Wait()
	assert.Equal(t, 100.0, last)
}

func TestRunner_StartRejectsEmptyInputs(t *testing.T) {
	r, reg := newRunner(t)
	_, err := r.Start(pipeline.Environment{}, nil, pipeline.DefaultRunOptions())
	require.Error(t, err)
	assert.Empty(t, reg.List())
}
