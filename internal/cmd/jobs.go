package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	apperrors "github.com/ricopen19/OCR-to-doc/internal/errors"
	"github.com/ricopen19/OCR-to-doc/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect archived conversion jobs",
	Long: `Inspect the archive of finished jobs.

Every job that reaches done or error is written to
<archive dir>/<job_id>/job.json (jobs.archive_dir, default under the user
config dir), so results stay inspectable after the server restarts.

Job ids may be abbreviated to any unique prefix.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived jobs, newest first",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show one archived job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Print the captured pipeline output of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete archived jobs older than --max-age",
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsCmd.AddCommand(jobsGCCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsLogsCmd.Flags().Int("tail", 0, "Show last N lines (0 = all)")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete jobs that ended longer ago than this")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func jobsStore(cmd *cobra.Command) (*jobregistry.Store, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	return jobregistry.NewStore(cfg.Jobs.ArchiveDir), nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return listJobs(cmd.OutOrStdout(), store, jsonOutput)
}

func listJobs(out io.Writer, store *jobregistry.Store, jsonOutput bool) error {
	jobs, err := store.List()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tPROGRESS\tCREATED\tENDED\tINPUTS\tOUTPUTS")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\t%s\t%d\t%d\n",
			shortJobID(j.ID),
			j.Status,
			j.Progress,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.EndedAt),
			len(j.Inputs),
			len(j.Outputs),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	id, err := resolveJobID(store, args[0])
	if err != nil {
		return err
	}
	job, err := store.Get(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}
	printJobStatus(out, job)
	return nil
}

func printJobStatus(out io.Writer, j *jobregistry.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintf(w, "Job:\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	_, _ = fmt.Fprintf(w, "Progress:\t%.0f%%\n", j.Progress)
	_, _ = fmt.Fprintf(w, "Created:\t%s\n", j.CreatedAt.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Ended:\t%s\n", formatOptionalTime(j.EndedAt))
	if j.Error != nil {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", *j.Error)
	}
	for _, in := range j.Inputs {
		_, _ = fmt.Fprintf(w, "Input:\t%s\n", in)
	}
	for _, o := range j.Outputs {
		_, _ = fmt.Fprintf(w, "Output:\t%s\n", o)
	}
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	id, err := resolveJobID(store, args[0])
	if err != nil {
		return err
	}
	job, err := store.Get(id)
	if err != nil {
		return err
	}
	tailN, _ := cmd.Flags().GetInt("tail")
	printLogTail(cmd.OutOrStdout(), job.Log, tailN)
	return nil
}

func printLogTail(out io.Writer, lines []string, tailN int) {
	if tailN > 0 && len(lines) > tailN {
		lines = lines[len(lines)-tailN:]
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "invalid --max-age", err)
	}
	if maxAge <= 0 {
		return apperrors.Exitf(foundry.ExitInvalidArgument, "--max-age must be > 0")
	}

	store, err := jobsStore(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	n, err := gcJobs(store, maxAge, dryRun, time.Now().UTC())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = n
		} else {
			res.Deleted = n
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", n)
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", n)
	return nil
}

// gcJobs removes terminal jobs that ended more than maxAge before now and
// returns how many matched.
func gcJobs(store *jobregistry.Store, maxAge time.Duration, dryRun bool, now time.Time) (int, error) {
	jobs, err := store.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, j := range jobs {
		if !j.Status.Terminal() || j.EndedAt == nil {
			continue
		}
		if now.Sub(j.EndedAt.UTC()) <= maxAge {
			continue
		}
		if !dryRun {
			if err := store.Remove(j.ID); err != nil {
				return deleted, fmt.Errorf("remove job dir: %w", err)
			}
		}
		deleted++
	}
	return deleted, nil
}

// resolveJobID expands a unique id prefix to the full archived id.
func resolveJobID(store *jobregistry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", apperrors.Exitf(foundry.ExitMissingRequiredArgument, "job_id is required")
	}
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	jobs, err := store.List()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, input) {
			matches = append(matches, j.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", exitError(foundry.ExitFileNotFound, "", fmt.Errorf("%w: %s", jobregistry.ErrNotFound, input))
	case 1:
		return matches[0], nil
	default:
		return "", apperrors.Exitf(foundry.ExitInvalidArgument, "job id prefix %q is ambiguous (%d matches)", input, len(matches))
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
