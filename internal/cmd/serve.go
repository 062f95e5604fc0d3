package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ricopen19/OCR-to-doc/internal/config"
	"github.com/ricopen19/OCR-to-doc/internal/observability"
	"github.com/ricopen19/OCR-to-doc/internal/server"
	"github.com/ricopen19/OCR-to-doc/internal/server/handlers"
	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job API over HTTP",
	Long: `Start the HTTP server used by the desktop shell.

The server exposes job submission, progress polling, a websocket progress
stream, result lookup and artifact export under /api/v1, plus /health
probes and /version.

Running pipeline processes are killed when the server shuts down.

Examples:
  ocrdoc serve
  ocrdoc serve --host 0.0.0.0 --port 9000
  OCRDOC_LOG_PROFILE=console ocrdoc serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", viper.GetString("server.host"), "Address to bind")
	serveCmd.Flags().Int("port", viper.GetInt("server.port"), "Port to listen on (0 picks a free port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		overrides["server.host"] = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		overrides["server.port"] = port
	}

	cfg, err := loadConfig(cmd, overrides)
	if err != nil {
		return err
	}
	if err := observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitLoggingFailed, "init server logger", err)
	}
	logger := observability.ServerLogger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, cfg, logger)

	handlers.InitHealthManager(versionInfo.Version)
	health := handlers.GetHealthManager()
	health.RegisterChecker("pipeline", pipelineHealthChecker{check: a.svc.CheckEnvironment})
	health.RegisterChecker("archive", archiveHealthChecker{enabled: cfg.Jobs.ArchiveEnabled, dir: cfg.Jobs.ArchiveDir})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithService(a.svc),
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)

	logger.Info("starting ocrdoc server",
		zap.String("version", versionInfo.Version),
		zap.String("addr", srv.Addr()),
		zap.Bool("archive_enabled", cfg.Jobs.ArchiveEnabled))

	err = srv.Start(ctx)
	stop()
	a.runner.Wait()
	return err
}

// pipelineHealthChecker fails while the conversion dispatcher cannot be
// found, since every submission would be rejected.
type pipelineHealthChecker struct {
	check func() (service.EnvironmentStatus, error)
}

func (c pipelineHealthChecker) CheckHealth(context.Context) error {
	st, err := c.check()
	if err != nil {
		return err
	}
	if !st.DispatcherFound {
		return fmt.Errorf("pipeline dispatcher not found under %s", st.ProjectRoot)
	}
	return nil
}

type archiveHealthChecker struct {
	enabled bool
	dir     string
}

func (c archiveHealthChecker) CheckHealth(context.Context) error {
	if !c.enabled {
		return nil
	}
	if c.dir == "" {
		return errors.New("job archive dir is not configured")
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("job archive dir unavailable: %w", err)
	}
	return nil
}
