package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/outfit360/internal/pipeline"
	"github.com/andresmejia3/outfit360/internal/utils"
)

var sanitizeOpts Options

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Blur faces and/or backgrounds in a directory of frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := openLedger(cmd.Context(), false); err != nil {
			return err
		}
		_, err := runSanitize(cmd.Context(), sanitizeOpts)
		return err
	},
}

func init() {
	sanitizeCmd.Flags().StringVarP(&sanitizeOpts.InputPath, "input", "i", "", "Directory of input frames (.jpg, .jpeg, .png)")
	sanitizeCmd.Flags().StringVarP(&sanitizeOpts.OutputPath, "output", "o", "", "Directory to write sanitized frames to")
	sanitizeCmd.Flags().BoolVar(&sanitizeOpts.BlurFace, "blur-face", false, "Sanitize detected faces")
	sanitizeCmd.Flags().BoolVar(&sanitizeOpts.BlurBackground, "blur-background", false, "Blur everything but the detected person")

	sanitizeCmd.MarkFlagRequired("input")
	sanitizeCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(sanitizeCmd)
}

func runSanitize(ctx context.Context, opts Options) (*pipeline.BatchResult, error) {
	if err := validateSanitizeFlags(&opts); err != nil {
		return nil, err
	}

	names, err := utils.ListFrames(opts.InputPath)
	if err != nil {
		utils.ShowError("Unable to read input directory", err, nil)
		return nil, err
	}
	total := len(names)
	if total == 0 {
		fmt.Fprintf(os.Stderr, "⚠️  No frames found in %s\n", opts.InputPath)
		total = -1 // Spinner mode
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🧼 Sanitizing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	proc, dets, err := buildProcessor(func(string, error) { bar.Add(1) })
	if err != nil {
		utils.ShowError("Failed to set up detectors", err, nil)
		return nil, err
	}
	defer dets.Close()

	res, err := proc.ProcessFrames(ctx, opts.InputPath, opts.OutputPath, opts.BlurFace, opts.BlurBackground)
	bar.Finish()
	printSummary(os.Stderr, res)
	if err != nil {
		utils.ShowError("Sanitize aborted", err, nil)
		return res, err
	}
	return res, nil
}

// validateSanitizeFlags ensures all CLI arguments are valid before any model is loaded.
func validateSanitizeFlags(opts *Options) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input directory does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input directory", err, nil)
		return err
	}
	if !info.IsDir() {
		err := fmt.Errorf("is not a directory")
		utils.ShowError("Input path must be a directory of frames", err, nil)
		return err
	}

	// Safety Check: writing over the inputs would lose the originals
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output directories must be different")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if !opts.BlurFace && !opts.BlurBackground {
		fmt.Fprintln(os.Stderr, "ℹ️  No effect requested; frames will be copied unchanged.")
	}
	return nil
}
