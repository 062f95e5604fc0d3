// Package jobrunner executes conversion jobs.
//
// A job runs on its own goroutine. Each input file is converted by one
// pipeline process, strictly in submission order. Two goroutines per
// process read stdout and stderr line by line and write into the shared
// registry; both are joined before the exit status is interpreted so no
// buffered output is lost.
package jobrunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/progress"
	"github.com/ricopen19/OCR-to-doc/pkg/resolver"
)

const (
	// StderrPrefix tags stderr lines in the job log.
	StderrPrefix = "[err] "

	maxLineBytes = 4 * 1024 * 1024
)

// Runner starts jobs and owns their goroutines.
type Runner struct {
	registry *jobregistry.Registry
	archive  *jobregistry.Store
	tunables progress.Tunables
	logger   *zap.Logger
	baseCtx  context.Context
	now      func() time.Time
	newID    func() string

	progressLog rate.Sometimes
	wg          sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithArchive writes terminal snapshots to store.
func WithArchive(store *jobregistry.Store) Option {
	return func(r *Runner) { r.archive = store }
}

// WithTunables overrides the progress mapping constants.
func WithTunables(t progress.Tunables) Option {
	return func(r *Runner) { r.tunables = t }
}

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithContext sets the context pipeline processes are bound to. Cancelling
// it kills every running pipeline process.
func WithContext(ctx context.Context) Option {
	return func(r *Runner) {
		if ctx != nil {
			r.baseCtx = ctx
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator replaces the UUID job id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Runner) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// New returns a runner writing into registry.
func New(registry *jobregistry.Registry, opts ...Option) *Runner {
	r := &Runner{
		registry:    registry,
		tunables:    progress.DefaultTunables(),
		logger:      zap.NewNop(),
		baseCtx:     context.Background(),
		now:         time.Now,
		newID:       uuid.NewString,
		progressLog: rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tunables returns the progress settings in use.
func (r *Runner) Tunables() progress.Tunables {
	return r.tunables
}

// Start registers a Running job and converts inputs in the background. It
// returns as soon as the job is registered.
func (r *Runner) Start(env pipeline.Environment, inputs []string, opts pipeline.RunOptions) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("no input files")
	}

	id := r.newID()
	job := jobregistry.NewJob(id, inputs, r.now())
	job.AppendLog("job started")
	if err := r.registry.Create(job); err != nil {
		return "", err
	}

	r.logger.Info("job started",
		zap.String("job_id", id),
		zap.Int("inputs", len(inputs)),
		zap.Strings("formats", opts.Formats),
	)

	inputs = append([]string(nil), inputs...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(id, env, inputs, opts)
	}()
	return id, nil
}

// Wait blocks until every started job has reached a terminal state.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(id string, env pipeline.Environment, inputs []string, opts pipeline.RunOptions) {
	for idx, input := range inputs {
		band := progress.Band{Index: idx, Count: len(inputs)}
		inv := pipeline.Build(env, input, opts)

		r.mutate(id, func(j *jobregistry.Job) {
			j.AppendLog("spawn: " + inv.String())
			j.RaiseProgress(band.Start(), r.tunables.MaxInferred)
		})

		if err := r.runFile(id, band, inv); err != nil {
			r.logger.Warn("job failed",
				zap.String("job_id", id),
				zap.String("input", input),
				zap.Error(err),
			)
			r.fail(id, err.Error())
			return
		}

		r.mutate(id, func(j *jobregistry.Job) {
			j.RaiseProgress(band.End(), r.tunables.MaxInferred)
		})
	}

	r.finish(id, env, inputs, opts)
}

func (r *Runner) runFile(id string, band progress.Band, inv pipeline.Invocation) error {
	cmd := exec.CommandContext(r.baseCtx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to spawn pipeline: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to spawn pipeline: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn pipeline: %w", err)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		parser := progress.NewParser(r.tunables, band, r.now)
		r.readLines(id, stdout, func(j *jobregistry.Job, line string) {
			u := parser.Feed(line)
			j.AppendLog(line)
			u.Apply(j, r.tunables)
		})
	}()
	go func() {
		defer readers.Done()
		r.readLines(id, stderr, func(j *jobregistry.Job, line string) {
			j.AppendLog(StderrPrefix + line)
		})
	}()
	readers.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return fmt.Errorf("pipeline failed (non-zero exit code %d)", exitErr.ExitCode())
		}
		return fmt.Errorf("pipeline terminated: %w", err)
	}
	return nil
}

// readLines applies handle to every line of src under the job's lock. A line
// longer than maxLineBytes ends structured reading; the rest of the stream
// is drained so the process never blocks on a full pipe.
func (r *Runner) readLines(id string, src io.Reader, handle func(*jobregistry.Job, string)) {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		r.mutate(id, func(j *jobregistry.Job) { handle(j, line) })
		r.progressLog.Do(func() {
			if snap, err := r.registry.Get(id); err == nil {
				r.logger.Debug("job progress",
					zap.String("job_id", id),
					zap.Float64("progress", snap.Progress),
					zap.Int("log_lines", len(snap.Log)),
				)
			}
		})
	}
	if err := sc.Err(); err != nil {
		r.logger.Warn("pipeline output unreadable", zap.String("job_id", id), zap.Error(err))
		_, _ = io.Copy(io.Discard, src)
	}
}

func (r *Runner) finish(id string, env pipeline.Environment, inputs []string, opts pipeline.RunOptions) {
	paths := resolver.CollectOutputFiles(env.ProjectRoot, inputs, opts.Formats)
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	preview := readPreview(paths, inputs)

	r.mutate(id, func(j *jobregistry.Job) {
		j.Finish(names, preview, r.now())
	})
	r.logger.Info("job done", zap.String("job_id", id), zap.Strings("outputs", names))
	r.archiveJob(id)
}

func (r *Runner) fail(id, msg string) {
	r.mutate(id, func(j *jobregistry.Job) {
		j.Fail(msg, r.now())
	})
	r.archiveJob(id)
}

// readPreview returns the first markdown artifact's content or a message
// explaining why there is none.
func readPreview(paths, inputs []string) string {
	for _, p := range paths {
		if filepath.Ext(p) != ".md" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return "failed to read markdown preview: " + p
		}
		return string(b)
	}
	return fmt.Sprintf("Converted markdown for: %s (md preview not found)", strings.Join(inputs, ", "))
}

func (r *Runner) mutate(id string, fn func(*jobregistry.Job)) {
	err := r.registry.Mutate(id, func(j *jobregistry.Job) error {
		fn(j)
		return nil
	})
	if err != nil {
		r.logger.Debug("job update dropped", zap.String("job_id", id), zap.Error(err))
	}
}

func (r *Runner) archiveJob(id string) {
	if r.archive == nil {
		return
	}
	snap, err := r.registry.Get(id)
	if err != nil {
		return
	}
	if err := r.archive.Write(snap); err != nil {
		r.logger.Warn("failed to archive job", zap.String("job_id", id), zap.Error(err))
	}
}
