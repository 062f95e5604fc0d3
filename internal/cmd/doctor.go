package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricopen19/OCR-to-doc/internal/config"
	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/internal/observability"
	"github.com/ricopen19/OCR-to-doc/pkg/export"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/resolver"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the pipeline environment and suggest fixes for
common issues.

Examples:
  ocrdoc doctor                  # Pipeline environment check
  ocrdoc doctor --provider s3    # Also check S3 export credentials`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorCheck is one line of the report. Warnings do not fail the run.
type doctorCheck struct {
	name   string
	ok     bool
	warn   bool
	detail string
	fields []zap.Field
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	bannerName := config.AppName + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		observability.CLILogger.Error("Checking configuration... ❌", zap.Error(err))
		return err
	}

	checks := environmentChecks(cfg)
	totalChecks := len(checks)
	if doctorProvider == "s3" {
		totalChecks += 2
	}

	allChecks := true
	checkNum := 1
	for _, c := range checks {
		reportCheck(checkNum, totalChecks, c)
		if !c.ok && !c.warn {
			allChecks = false
		}
		checkNum++
	}

	if doctorProvider == "s3" {
		allChecks = runS3Checks(cmd.Context(), cfg.Export.S3, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", config.AppName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
	if !allChecks {
		return apperrors.Exitf(foundry.ExitHealthCheckFailed, "doctor: some checks failed")
	}
	return nil
}

func reportCheck(n, total int, c doctorCheck) {
	switch {
	case c.ok:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", n, total, c.name, c.detail), c.fields...)
	case c.warn:
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", n, total, c.name, c.detail), c.fields...)
	default:
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", n, total, c.name, c.detail), c.fields...)
	}
}

// environmentChecks inspects everything a submission depends on.
func environmentChecks(cfg *config.Config) []doctorCheck {
	var checks []doctorCheck

	goVersion := runtime.Version()
	checks = append(checks, doctorCheck{
		name: "Go version", ok: goVersion >= "go1.23", warn: true,
		detail: goVersion, fields: []zap.Field{zap.String("go_version", goVersion)},
	})

	version := crucible.GetVersion()
	checks = append(checks, doctorCheck{
		name: "gofulmen", ok: version.Gofulmen != "",
		detail: fmt.Sprintf("v%s (crucible v%s)", version.Gofulmen, version.Crucible),
		fields: []zap.Field{zap.String("gofulmen_version", version.Gofulmen), zap.String("crucible_version", version.Crucible)},
	})

	if dir, err := os.UserConfigDir(); err != nil {
		checks = append(checks, doctorCheck{name: "config directory", detail: "cannot find config directory", fields: []zap.Field{zap.Error(err)}})
	} else {
		dir = filepath.Join(dir, config.AppName)
		checks = append(checks, doctorCheck{name: "config directory", ok: true, detail: dir, fields: []zap.Field{zap.String("config_dir", dir)}})
	}

	env, err := pipeline.Locate(cfg.Environment())
	if err != nil {
		checks = append(checks, doctorCheck{
			name:   "project root",
			detail: "not found (set OCRDOC_PROJECT_ROOT or run from the pipeline checkout)",
			fields: []zap.Field{zap.Error(err)},
		})
		return checks
	}
	checks = append(checks, doctorCheck{name: "project root", ok: true, detail: env.ProjectRoot, fields: []zap.Field{zap.String("project_root", env.ProjectRoot)}})

	checks = append(checks, fileCheck("pipeline dispatcher", env.Entry, false))
	checks = append(checks, interpreterCheck(env.Interpreter))

	results := resolver.ResultsRoot(env.ProjectRoot)
	if st, err := os.Stat(results); err == nil && st.IsDir() {
		checks = append(checks, doctorCheck{name: "results directory", ok: true, detail: results})
	} else {
		checks = append(checks, doctorCheck{name: "results directory", warn: true, detail: results + " does not exist yet"})
	}

	checks = append(checks, fileCheck("preview helper", env.PreviewHelper, true))

	checks = append(checks, doctorCheck{
		name: "environment", ok: true,
		detail: fmt.Sprintf("%s/%s (gpu device %s)", runtime.GOOS, runtime.GOARCH, env.GPUDevice),
		fields: []zap.Field{zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH), zap.String("gpu_device", env.GPUDevice)},
	})
	return checks
}

func fileCheck(name, path string, optional bool) doctorCheck {
	if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
		return doctorCheck{name: name, ok: true, detail: path}
	}
	return doctorCheck{name: name, warn: optional, detail: "missing: " + path}
}

func interpreterCheck(bin string) doctorCheck {
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return doctorCheck{
			name:   "python interpreter",
			detail: fmt.Sprintf("%s not executable (set %s)", bin, pipeline.InterpreterEnv),
			fields: []zap.Field{zap.Error(err)},
		}
	}
	return doctorCheck{name: "python interpreter", ok: true, detail: resolved}
}

// runS3Checks verifies that export credentials resolve.
func runS3Checks(ctx context.Context, s3 export.S3Config, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Export Checks:")

	var opts []func(*awsconfig.LoadOptions) error
	if s3.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s3.Profile))
	}
	if s3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s3.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	var source string
	if s3.AccessKeyID != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found static credentials", checkNum, totalChecks),
			zap.String("access_key", maskAccessKey(s3.AccessKeyID)))
		source = "settings (export.s3.access_key_id)"
	} else {
		creds, err := cfg.Credentials.Retrieve(ctx)
		if err != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
				zap.Error(err))
			printAWSCredentialsHelp()
			return false
		}
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
			zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
			zap.String("source", creds.Source))
		source = creds.Source
	}
	checkNum++

	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source),
		zap.String("endpoint", s3.Endpoint))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' and set export.s3.profile, or")
	observability.CLILogger.Info("  3. Set export.s3.access_key_id and export.s3.secret_access_key in settings.yaml")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - export.s3.endpoint and export.s3.force_path_style")
	observability.CLILogger.Info("")
}
