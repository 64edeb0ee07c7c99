package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/outfit360/internal/store"
	"github.com/andresmejia3/outfit360/internal/utils"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded sanitize runs",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return openLedger(cmd.Context(), true)
	},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run id>",
	Short: "List the frame issues of one run",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return openLedger(cmd.Context(), true)
	},
	Run: func(cmd *cobra.Command, args []string) {
		runShow(cmd.Context(), args[0])
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show (0 = all)")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runList(ctx context.Context) {
	runs, err := DB.ListRuns(ctx, runsLimit)
	if err != nil {
		utils.Die("Failed to list runs", err, nil)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found in database.")
		return
	}
	writeRuns(os.Stdout, runs)
}

func writeRuns(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tEFFECTS\tOK\tDEGRADED\tFAILED\tDURATION\tSTARTED")
	fmt.Fprintln(w, "--\t------\t-------\t--\t--------\t------\t--------\t-------")

	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, effects(r.BlurFace, r.BlurBackground),
			r.Succeeded, r.Total, r.Degraded, r.Failed,
			r.Duration, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func effects(face, background bool) string {
	switch {
	case face && background:
		return "face+background"
	case face:
		return "face"
	case background:
		return "background"
	}
	return "copy"
}

func runShow(ctx context.Context, id string) {
	issues, err := DB.RunIssues(ctx, id)
	if err != nil {
		utils.Die("Failed to load run", err, nil)
	}
	if len(issues) == 0 {
		fmt.Println("No frame issues recorded for this run.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FRAME\tOUTCOME\tKIND\tREASON")
	fmt.Fprintln(w, "-----\t-------\t----\t------")
	for _, is := range issues {
		outcome := "failed"
		if is.Degraded {
			outcome = "degraded"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", is.Frame, outcome, is.Kind, is.Reason)
	}
	w.Flush()
}
