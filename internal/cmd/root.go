package cmd

import (
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ricopen19/OCR-to-doc/internal/config"
	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/internal/observability"
	"github.com/ricopen19/OCR-to-doc/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Run and track OCR document conversion jobs",
	Long: `ocrdoc drives the OCR conversion pipeline.

It submits conversion jobs, infers their progress from the pipeline's
console output, locates the produced documents and exports them to local
directories or S3-compatible storage. 'ocrdoc serve' exposes the same
operations over HTTP for the desktop shell.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(config.AppName, verbose)
		config.SetConfigFile(cfgFile)
	},
}

// Execute runs the root command and exits with the foundry code matching
// the failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := apperrors.ExitCodeFor(err)
		observability.CLILogger.Error("Command failed", zap.Error(err), zap.Int("exit_code", code))
		observability.Sync()
		os.Exit(code)
	}
	observability.Sync()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return apperrors.Exit(code, message, err)
}

// SetVersionInfo records build metadata for `version` and the HTTP API.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default: ./configs/settings.yaml, then the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	setDefaults()
}

// setDefaults seeds the global viper instance with the flag-visible server
// defaults so `serve --help` reflects them.
func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")
}

// loadConfig resolves configuration with flag overrides applied.
func loadConfig(cmd *cobra.Command, overrides map[string]any) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return nil, exitError(foundry.ExitConfigInvalid, "load configuration", err)
	}
	return cfg, nil
}
