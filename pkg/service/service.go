// Package service is the command and query surface the UI layer talks to.
//
// Every method classifies its failures with internal/errors kinds so the
// HTTP server and the CLI can present them without string matching. Job
// lookups consult the live registry first and the on-disk archive second,
// so finished jobs stay queryable after a restart.
package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/pkg/artifact"
	"github.com/ricopen19/OCR-to-doc/pkg/export"
	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
	"github.com/ricopen19/OCR-to-doc/pkg/jobrunner"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/resolver"
)

// Service wires the registry, runner and artifact helpers together.
type Service struct {
	env      pipeline.Environment
	defaults pipeline.RunOptions

	registry *jobregistry.Registry
	runner   *jobrunner.Runner
	archive  *jobregistry.Store
	exporter *export.Exporter
	opener   Opener
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithEnvironment pins parts of the pipeline environment. Empty fields are
// discovered on every call.
func WithEnvironment(env pipeline.Environment) Option {
	return func(s *Service) { s.env = env }
}

// WithDefaults sets the options used when a submission carries none.
func WithDefaults(opts pipeline.RunOptions) Option {
	return func(s *Service) { s.defaults = opts }
}

// WithArchive makes archived jobs visible to lookups.
func WithArchive(store *jobregistry.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithExporter sets the artifact exporter.
func WithExporter(e *export.Exporter) Option {
	return func(s *Service) {
		if e != nil {
			s.exporter = e
		}
	}
}

// WithOpener replaces the OS file opener.
func WithOpener(o Opener) Option {
	return func(s *Service) {
		if o != nil {
			s.opener = o
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a service over registry and runner. The runner must write
// into the same registry.
func New(registry *jobregistry.Registry, runner *jobrunner.Runner, opts ...Option) *Service {
	s := &Service{
		defaults: pipeline.DefaultRunOptions(),
		registry: registry,
		runner:   runner,
		exporter: export.New(export.S3Config{}),
		opener:   SystemOpener{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Progress is the polling view of a job.
type Progress struct {
	ID             string             `json:"id"`
	Status         jobregistry.Status `json:"status"`
	Progress       float64            `json:"progress"`
	Log            []string           `json:"log"`
	CurrentMessage *string            `json:"currentMessage,omitempty"`
	PageCurrent    *int               `json:"pageCurrent,omitempty"`
	PageTotal      *int               `json:"pageTotal,omitempty"`
	ETASeconds     *int               `json:"etaSeconds,omitempty"`
}

// Result is the outcome view of a job.
type Result struct {
	ID          string             `json:"id"`
	Status      jobregistry.Status `json:"status"`
	Outputs     []string           `json:"outputs"`
	Preview     *string            `json:"preview,omitempty"`
	PreviewHTML *string            `json:"previewHtml,omitempty"`
	Error       *string            `json:"error,omitempty"`
}

// JobSummary is one row of ListJobs.
type JobSummary struct {
	ID        string             `json:"id"`
	Status    jobregistry.Status `json:"status"`
	Progress  float64            `json:"progress"`
	Inputs    []string           `json:"inputs,omitempty"`
	Error     *string            `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// EnvironmentStatus reports whether the pipeline can run.
type EnvironmentStatus struct {
	ProjectRoot        string `json:"projectRoot"`
	DispatcherFound    bool   `json:"dispatcherFound"`
	ResultDirFound     bool   `json:"resultDirFound"`
	PythonBin          string `json:"pythonBin"`
	PreviewHelperFound bool   `json:"previewHelperFound"`
	GPUDevice          string `json:"gpuDevice"`
}

// SubmitJob validates a submission and starts it. No job is created when an
// error is returned. A nil opts uses the service defaults.
func (s *Service) SubmitJob(paths []string, opts *pipeline.RunOptions) (string, error) {
	const op = "submit job"

	if len(paths) == 0 {
		return "", apperrors.Validation(op, "no input files")
	}
	for i, p := range paths {
		if strings.TrimSpace(p) == "" {
			return "", apperrors.Validation(op, "input %d is empty", i)
		}
	}

	run := s.defaults
	if opts != nil {
		run = *opts
	}
	if err := run.Validate(); err != nil {
		return "", apperrors.Wrap(apperrors.KindValidation, op, err, "invalid options")
	}

	env, err := s.environment(op)
	if err != nil {
		return "", err
	}
	if !env.EntryFound() {
		return "", apperrors.Configuration(op, "dispatcher not found: %s", env.Entry)
	}

	id, err := s.runner.Start(env, paths, run)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternal, op, err, "failed to start job")
	}
	s.logger.Info("job submitted", zap.String("job_id", id), zap.Int("inputs", len(paths)))
	return id, nil
}

// GetProgress returns the polling view of a job.
func (s *Service) GetProgress(id string) (Progress, error) {
	job, err := s.job("get progress", id)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		ID:             job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		Log:            job.Log,
		CurrentMessage: job.CurrentMessage,
		PageCurrent:    job.PageCurrent,
		PageTotal:      job.PageTotal,
		ETASeconds:     job.ETASeconds,
	}, nil
}

// GetResult returns a job's outputs, preview and error. The preview is also
// rendered to HTML.
func (s *Service) GetResult(id string) (Result, error) {
	job, err := s.job("get result", id)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		ID:      job.ID,
		Status:  job.Status,
		Outputs: job.Outputs,
		Preview: job.Preview,
		Error:   job.Error,
	}
	if job.Preview != nil {
		if html, err := artifact.RenderMarkdownHTML([]byte(*job.Preview)); err == nil {
			res.PreviewHTML = &html
		} else {
			s.logger.Debug("preview render failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return res, nil
}

// ListJobs returns live jobs in creation order.
func (s *Service) ListJobs() []JobSummary {
	jobs := s.registry.List()
	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSummary{
			ID:        j.ID,
			Status:    j.Status,
			Progress:  j.Progress,
			Inputs:    j.Inputs,
			Error:     j.Error,
			CreatedAt: j.CreatedAt,
		})
	}
	return out
}

// ResolveAndCopyOutput copies one of a job's outputs to destination, a local
// path or an s3://bucket/key URI. filename must be one of the job's outputs;
// anything else is rejected before the filesystem is touched.
func (s *Service) ResolveAndCopyOutput(ctx context.Context, id, filename, destination string) error {
	const op = "copy output"

	src, err := s.outputPath(op, id, filename)
	if err != nil {
		return err
	}
	dest, err := export.ParseDestination(destination)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidation, op, err, "invalid destination")
	}
	if err := s.exporter.Copy(ctx, src, dest); err != nil {
		return apperrors.WrapIO(op, err, "failed to copy file")
	}
	s.logger.Info("output copied",
		zap.String("job_id", id),
		zap.String("file", filename),
		zap.String("destination", dest.String()),
	)
	return nil
}

// DescribeOutput reports metadata for one of a job's outputs.
func (s *Service) DescribeOutput(id, filename string) (artifact.Info, error) {
	const op = "describe output"

	path, err := s.outputPath(op, id, filename)
	if err != nil {
		return artifact.Info{}, err
	}
	info, err := artifact.Describe(path)
	if err != nil {
		return artifact.Info{}, apperrors.WrapIO(op, err, "failed to describe output")
	}
	return info, nil
}

// OpenOutput opens one of a job's outputs with the OS default application.
func (s *Service) OpenOutput(ctx context.Context, id, filename string) error {
	const op = "open output"

	path, err := s.outputPath(op, id, filename)
	if err != nil {
		return err
	}
	if err := s.opener.Open(ctx, path); err != nil {
		return apperrors.WrapIO(op, err, "failed to open file")
	}
	return nil
}

// OpenOutputDir opens the directory holding a job's first locatable output,
// or the results root when none is found.
func (s *Service) OpenOutputDir(ctx context.Context, id string) error {
	const op = "open output dir"

	job, err := s.job(op, id)
	if err != nil {
		return err
	}
	env, err := s.environment(op)
	if err != nil {
		return err
	}

	dir := resolver.ResultsRoot(env.ProjectRoot)
	for _, name := range job.Outputs {
		if p, ok := resolver.FindOutputPath(env.ProjectRoot, name); ok {
			dir = filepath.Dir(p)
			break
		}
	}
	if err := s.opener.Open(ctx, dir); err != nil {
		return apperrors.WrapIO(op, err, "failed to open directory")
	}
	return nil
}

// ListRecentResults lists results directories newest first. limit <= 0
// means resolver.DefaultRecentLimit.
func (s *Service) ListRecentResults(limit int) ([]resolver.RecentResult, error) {
	const op = "list recent results"

	env, err := s.environment(op)
	if err != nil {
		return nil, err
	}
	out, err := resolver.ListRecent(env.ProjectRoot, limit)
	if err != nil {
		return nil, apperrors.WrapIO(op, err, "failed to list results")
	}
	return out, nil
}

// OpenResultDirectory opens <results>/<dirName>.
func (s *Service) OpenResultDirectory(ctx context.Context, dirName string) error {
	const op = "open result directory"

	dir, err := s.resultDir(op, dirName)
	if err != nil {
		return err
	}
	if err := s.opener.Open(ctx, dir); err != nil {
		return apperrors.WrapIO(op, err, "failed to open directory")
	}
	return nil
}

// OpenResultFile opens the best artifact in <results>/<dirName>.
func (s *Service) OpenResultFile(ctx context.Context, dirName string) error {
	const op = "open result file"

	dir, err := s.resultDir(op, dirName)
	if err != nil {
		return err
	}
	best, ok := resolver.PickBestFileInDir(dir, dirName)
	if !ok {
		return apperrors.Lookup(op, "no openable file in %s", dirName)
	}
	if err := s.opener.Open(ctx, filepath.Join(dir, best)); err != nil {
		return apperrors.WrapIO(op, err, "failed to open file")
	}
	return nil
}

// CheckEnvironment reports what the pipeline environment looks like.
func (s *Service) CheckEnvironment() (EnvironmentStatus, error) {
	env, err := s.environment("check environment")
	if err != nil {
		return EnvironmentStatus{}, err
	}
	st, statErr := os.Stat(resolver.ResultsRoot(env.ProjectRoot))
	return EnvironmentStatus{
		ProjectRoot:        env.ProjectRoot,
		DispatcherFound:    env.EntryFound(),
		ResultDirFound:     statErr == nil && st.IsDir(),
		PythonBin:          env.Interpreter,
		PreviewHelperFound: env.PreviewHelperFound(),
		GPUDevice:          env.GPUDevice,
	}, nil
}

// RenderPreview renders one page of an input through the preview helper.
func (s *Service) RenderPreview(ctx context.Context, req pipeline.PreviewRequest) (pipeline.PreviewResponse, error) {
	const op = "render preview"

	if err := req.Validate(); err != nil {
		return pipeline.PreviewResponse{}, apperrors.Wrap(apperrors.KindValidation, op, err, "invalid preview request")
	}
	if _, err := os.Stat(req.Path); err != nil {
		return pipeline.PreviewResponse{}, apperrors.Validation(op, "input not found: %s", req.Path)
	}
	env, err := s.environment(op)
	if err != nil {
		return pipeline.PreviewResponse{}, err
	}
	if !env.PreviewHelperFound() {
		return pipeline.PreviewResponse{}, apperrors.Configuration(op, "preview helper not found: %s", env.PreviewHelper)
	}
	resp, err := pipeline.RenderPreview(ctx, env, req)
	if err != nil {
		return pipeline.PreviewResponse{}, apperrors.WrapProcess(op, err, "preview failed")
	}
	return resp, nil
}

func (s *Service) environment(op string) (pipeline.Environment, error) {
	env, err := pipeline.Locate(s.env)
	if err != nil {
		return env, apperrors.Wrap(apperrors.KindConfiguration, op, err, "pipeline environment unavailable")
	}
	return env, nil
}

func (s *Service) job(op, id string) (jobregistry.Job, error) {
	job, err := s.registry.Get(id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, jobregistry.ErrNotFound) {
		return jobregistry.Job{}, apperrors.Wrap(apperrors.KindInternal, op, err, "job lookup failed")
	}
	if s.archive != nil && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..") {
		if archived, aerr := s.archive.Get(id); aerr == nil {
			return *archived, nil
		}
	}
	return jobregistry.Job{}, apperrors.Wrap(apperrors.KindLookup, op, err, "job not found")
}

// outputPath checks that filename belongs to the job before resolving it.
func (s *Service) outputPath(op, id, filename string) (string, error) {
	job, err := s.job(op, id)
	if err != nil {
		return "", err
	}
	if !contains(job.Outputs, filename) {
		return "", apperrors.Security(op, "%q is not an output of job %s", filename, id)
	}
	env, err := s.environment(op)
	if err != nil {
		return "", err
	}
	path, ok := resolver.FindOutputPath(env.ProjectRoot, filename)
	if !ok {
		return "", apperrors.Lookup(op, "output file not found: %s", filename)
	}
	return path, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
