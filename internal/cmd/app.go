package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/ricopen19/OCR-to-doc/internal/config"
	"github.com/ricopen19/OCR-to-doc/pkg/export"
	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
	"github.com/ricopen19/OCR-to-doc/pkg/jobrunner"
	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

// app is the wired job engine shared by `serve` and `run`.
type app struct {
	registry *jobregistry.Registry
	runner   *jobrunner.Runner
	archive  *jobregistry.Store
	svc      *service.Service
}

// newApp wires registry, runner and service from cfg. Pipeline processes
// are bound to ctx and die with it.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) *app {
	registry := jobregistry.New()

	runnerOpts := []jobrunner.Option{
		jobrunner.WithContext(ctx),
		jobrunner.WithTunables(cfg.Progress),
		jobrunner.WithLogger(logger.Named("runner")),
	}
	svcOpts := []service.Option{
		service.WithEnvironment(cfg.Environment()),
		service.WithDefaults(cfg.Defaults.RunOptions()),
		service.WithExporter(export.New(cfg.Export.S3)),
		service.WithLogger(logger.Named("service")),
	}

	var archive *jobregistry.Store
	if cfg.Jobs.ArchiveEnabled {
		archive = jobregistry.NewStore(cfg.Jobs.ArchiveDir)
		runnerOpts = append(runnerOpts, jobrunner.WithArchive(archive))
		svcOpts = append(svcOpts, service.WithArchive(archive))
	}

	runner := jobrunner.New(registry, runnerOpts...)
	return &app{
		registry: registry,
		runner:   runner,
		archive:  archive,
		svc:      service.New(registry, runner, svcOpts...),
	}
}
