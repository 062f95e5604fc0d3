package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricopen19/OCR-to-doc/internal/observability"
	"github.com/ricopen19/OCR-to-doc/pkg/resolver"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse conversion results",
	Long: `Browse the pipeline's results directory (<project root>/result).

Each conversion writes one directory per input, suffixed with the page
range for partial runs (report_p3-9).`,
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent results directories, newest first",
	RunE:  runResultsList,
}

var resultsOpenCmd = &cobra.Command{
	Use:   "open <dir_name>",
	Short: "Open a results directory or its main document",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultsOpen,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsOpenCmd)

	resultsListCmd.Flags().Int("limit", resolver.DefaultRecentLimit, "Maximum number of entries")
	resultsListCmd.Flags().Bool("json", false, "Output as JSON")
	resultsOpenCmd.Flags().Bool("file", false, "Open the best document instead of the directory")
}

func runResultsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	a := newApp(cmd.Context(), cfg, observability.CLILogger)

	limit, _ := cmd.Flags().GetInt("limit")
	recent, err := a.svc.ListRecentResults(limit)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return printRecentResults(cmd.OutOrStdout(), recent, jsonOutput)
}

func printRecentResults(out io.Writer, recent []resolver.RecentResult, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recent)
	}
	if len(recent) == 0 {
		_, _ = fmt.Fprintln(out, "No results found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "DIRECTORY\tUPDATED\tPAGES\tDOCUMENT")
	for _, r := range recent {
		updated := time.UnixMilli(r.UpdatedAtMs).UTC().Format(time.RFC3339)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.DirName, updated, optional(r.PageRange), optional(r.BestFile))
	}
	return nil
}

func runResultsOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	a := newApp(cmd.Context(), cfg, observability.CLILogger)

	if openFile, _ := cmd.Flags().GetBool("file"); openFile {
		return a.svc.OpenResultFile(cmd.Context(), args[0])
	}
	return a.svc.OpenResultDirectory(cmd.Context(), args[0])
}

func optional(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
