package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/internal/observability"
	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
	"github.com/ricopen19/OCR-to-doc/pkg/manifest"
	"github.com/ricopen19/OCR-to-doc/pkg/pipeline"
	"github.com/ricopen19/OCR-to-doc/pkg/service"
)

var runCmd = &cobra.Command{
	Use:   "run [input...]",
	Short: "Convert documents and wait for the result",
	Long: `Submit one conversion job and follow it until it finishes.

Inputs are file paths or doublestar globs ("scans/**/*.pdf"). A manifest
supplies inputs and options in one file; flags override its options.
Pipeline console output is echoed to stdout while the job runs.

Examples:
  ocrdoc run report.pdf
  ocrdoc run "scans/**/*.pdf" --formats md,docx --chunk-size 10
  ocrdoc run invoice.pdf --start 3 --end 9 --export ./out/
  ocrdoc run --manifest batch.yaml --export s3://archive/ocr/`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	registerRunFlags(runCmd)
}

func registerRunFlags(c *cobra.Command) {
	c.Flags().String("manifest", "", "Batch manifest (YAML or JSON)")
	c.Flags().StringSlice("formats", nil, "Output formats (md, docx, xlsx, csv)")
	c.Flags().Bool("figure", true, "Extract figures")
	c.Flags().Bool("gpu", false, "Run OCR on the GPU")
	c.Flags().Bool("image-as-pdf", false, "Wrap image inputs in a PDF first")
	c.Flags().String("mode", "", "Pipeline mode")
	c.Flags().String("excel-mode", "", "Spreadsheet export mode")
	c.Flags().Int("chunk-size", 0, "Pages per chunk")
	c.Flags().Int("rest", 0, "Seconds to rest between chunks")
	c.Flags().Int("pdf-dpi", 0, "Rasterization DPI for PDF pages")
	c.Flags().Int("start", 0, "First page to convert (every input)")
	c.Flags().Int("end", 0, "Last page to convert (every input)")
	c.Flags().String("export", "", "Copy outputs to a directory or s3://bucket/prefix/")
	c.Flags().Duration("interval", 500*time.Millisecond, "Progress polling interval")
	c.Flags().Bool("json", false, "Print the final result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	manifestPath = strings.TrimSpace(manifestPath)
	if manifestPath == "" && len(args) == 0 {
		return apperrors.Exitf(foundry.ExitMissingRequiredArgument, "no inputs: pass files or --manifest")
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	inputs, opts, exportTo, err := collectRunInputs(manifestPath, args, cfg.Defaults.RunOptions())
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, inputs, &opts); err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("export"); strings.TrimSpace(v) != "" {
		exportTo = strings.TrimSpace(v)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := newApp(ctx, cfg, observability.CLILogger)
	id, err := a.svc.SubmitJob(inputs, &opts)
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Job submitted", zap.String("job_id", id), zap.Int("inputs", len(inputs)))

	interval, _ := cmd.Flags().GetDuration("interval")
	res, err := followJob(ctx, cmd.OutOrStdout(), a.svc, id, interval)
	if err != nil {
		cancel()
		a.runner.Wait()
		return err
	}
	a.runner.Wait()

	if res.Status == jobregistry.StatusDone && exportTo != "" {
		if err := exportOutputs(ctx, a.svc, id, res.Outputs, exportTo); err != nil {
			return err
		}
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		for _, out := range res.Outputs {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
		}
	}

	if res.Status == jobregistry.StatusError {
		msg := "pipeline failed"
		if res.Error != nil {
			msg = *res.Error
		}
		return apperrors.Exitf(foundry.ExitTransformationFailed, "job %s failed: %s", shortJobID(id), msg)
	}
	return nil
}

// collectRunInputs resolves inputs and options from a manifest and/or
// positional arguments. Positional inputs resolve against the working
// directory and are appended after the manifest's.
func collectRunInputs(manifestPath string, args []string, defaults pipeline.RunOptions) ([]string, pipeline.RunOptions, string, error) {
	var (
		inputs   []string
		opts     = defaults
		exportTo string
	)

	if manifestPath != "" {
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return nil, opts, "", err
		}
		abs, err := filepath.Abs(manifestPath)
		if err != nil {
			return nil, opts, "", err
		}
		inputs, opts, err = m.Resolve(filepath.Dir(abs))
		if err != nil {
			return nil, opts, "", err
		}
		exportTo = m.Export
	}

	if len(args) > 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, opts, "", err
		}
		extra, err := manifest.ExpandInputs(args, cwd)
		if err != nil {
			return nil, opts, "", err
		}
		inputs = append(inputs, extra...)
	}
	return inputs, opts, exportTo, nil
}

// applyRunFlags overlays explicitly set flags on opts.
func applyRunFlags(cmd *cobra.Command, inputs []string, opts *pipeline.RunOptions) error {
	flags := cmd.Flags()
	if flags.Changed("formats") {
		opts.Formats, _ = flags.GetStringSlice("formats")
	}
	if flags.Changed("figure") {
		opts.EnableFigure, _ = flags.GetBool("figure")
	}
	if flags.Changed("gpu") {
		opts.UseGPU, _ = flags.GetBool("gpu")
	}
	if flags.Changed("image-as-pdf") {
		opts.ImageAsPDF, _ = flags.GetBool("image-as-pdf")
	}
	if flags.Changed("mode") {
		opts.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("excel-mode") {
		opts.ExcelMode, _ = flags.GetString("excel-mode")
	}
	if flags.Changed("chunk-size") {
		v, _ := flags.GetInt("chunk-size")
		opts.ChunkSize = &v
	}
	if flags.Changed("rest") {
		v, _ := flags.GetInt("rest")
		opts.EnableRest = v > 0
		opts.RestSeconds = &v
	}
	if flags.Changed("pdf-dpi") {
		v, _ := flags.GetInt("pdf-dpi")
		opts.PDFDPI = &v
	}

	if !flags.Changed("start") && !flags.Changed("end") {
		return nil
	}
	start, _ := flags.GetInt("start")
	end, _ := flags.GetInt("end")
	if start > 0 && end > 0 && end < start {
		return apperrors.Exitf(foundry.ExitInvalidArgument, "--end (%d) must not be before --start (%d)", end, start)
	}
	if opts.FileOptions == nil {
		opts.FileOptions = make(map[string]pipeline.FileOptions, len(inputs))
	}
	for _, in := range inputs {
		fo := opts.FileOptions[in]
		if start > 0 {
			s := start
			fo.Start = &s
		}
		if end > 0 {
			e := end
			fo.End = &e
		}
		opts.FileOptions[in] = fo
	}
	return nil
}

// jobWatcher is the slice of the service followJob polls.
type jobWatcher interface {
	GetProgress(id string) (service.Progress, error)
	GetResult(id string) (service.Result, error)
}

// followJob polls id until it is terminal, echoing new log lines to w.
func followJob(ctx context.Context, w io.Writer, svc jobWatcher, id string, interval time.Duration) (service.Result, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	printed := 0
	lastPercent := -1
	for {
		p, err := svc.GetProgress(id)
		if err != nil {
			return service.Result{}, err
		}
		for _, line := range p.Log[min(printed, len(p.Log)):] {
			_, _ = fmt.Fprintln(w, line)
		}
		printed = len(p.Log)

		if pct := int(math.Floor(p.Progress)); pct != lastPercent {
			lastPercent = pct
			fields := []zap.Field{zap.Int("percent", pct)}
			if p.PageCurrent != nil && p.PageTotal != nil {
				fields = append(fields, zap.String("page", fmt.Sprintf("%d/%d", *p.PageCurrent, *p.PageTotal)))
			}
			if p.ETASeconds != nil {
				fields = append(fields, zap.Duration("eta", time.Duration(*p.ETASeconds)*time.Second))
			}
			observability.CLILogger.Debug("Progress", fields...)
		}

		if p.Status.Terminal() {
			return svc.GetResult(id)
		}

		select {
		case <-ctx.Done():
			return service.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// outputExporter is the slice of the service exportOutputs needs.
type outputExporter interface {
	ResolveAndCopyOutput(ctx context.Context, id, filename, destination string) error
}

// exportOutputs copies every output into target, a directory or an s3://
// prefix.
func exportOutputs(ctx context.Context, svc outputExporter, id string, outputs []string, target string) error {
	s3 := strings.HasPrefix(strings.ToLower(target), "s3://")
	if !s3 {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	} else if !strings.HasSuffix(target, "/") {
		target += "/"
	}

	for _, name := range outputs {
		dest := target
		if !s3 {
			dest = filepath.Join(target, name)
		}
		if err := svc.ResolveAndCopyOutput(ctx, id, name, dest); err != nil {
			return err
		}
		observability.CLILogger.Info("Exported", zap.String("file", name), zap.String("destination", dest))
	}
	return nil
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}
