package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/outfit360/internal/utils"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the run ledger and/or delete the uploads tree",
	Long:  "Clears stored state. Without --ledger or --files both are cleared. Each step asks for confirmation unless --yes is set.",
	Run: func(cmd *cobra.Command, args []string) {
		if !resetDB && !resetFiles {
			resetDB, resetFiles = true, true
		}
		p := prompter{in: bufio.NewReader(os.Stdin), out: os.Stdout, yes: resetYes}

		if resetDB {
			resetLedger(cmd.Context(), p)
		}
		if resetFiles {
			resetUploads(p, Cfg.UploadsDir)
		}
		fmt.Println("✨ Reset complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "ledger", false, "Drop the run ledger tables")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete the uploads directory (videos, raw and processed frames, exports)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip confirmation prompts")
	rootCmd.AddCommand(resetCmd)
}

func resetLedger(ctx context.Context, p prompter) {
	if err := openLedger(ctx, false); err != nil {
		utils.Die("Failed to open run ledger", err, nil)
	}
	if DB == nil {
		fmt.Println("ℹ️  No database configured, skipping ledger.")
		return
	}
	if !p.confirm("⚠️  Drop the sanitize_runs and frame_issues tables?") {
		return
	}
	fmt.Println("🗑️  Dropping run ledger...")
	if err := DB.Reset(ctx); err != nil {
		utils.Die("Failed to reset database", err, nil)
	}
}

func resetUploads(p prompter, dir string) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Printf("ℹ️  %s does not exist, skipping uploads.\n", dir)
		return
	}
	if !p.confirm(fmt.Sprintf("⚠️  Delete everything under %s?", dir)) {
		return
	}
	fmt.Printf("🗑️  Removing %s...\n", dir)
	removeDir(dir)
}

// prompter asks y/N questions. yes answers every question with yes.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

func (p prompter) confirm(question string) bool {
	if p.yes {
		return true
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	res, _ := p.in.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
