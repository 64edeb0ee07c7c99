package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/outfit360/internal/ffmpeg"
	"github.com/andresmejia3/outfit360/internal/utils"
)

var (
	exportOpts   Options
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Encode a directory of frames into a GIF or MP4",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExport(cmd.Context(), exportOpts)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOpts.InputPath, "input", "i", "", "Directory of frames")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "gif", "Output format: gif, mp4")
	exportCmd.Flags().StringVarP(&exportOpts.OutputPath, "output", "o", "", "Output file (default: outfit360_export.<format>)")

	exportCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, opts Options) error {
	format, err := validateExportFlags(&opts)
	if err != nil {
		return err
	}
	if err := ffmpeg.NewExporter(nil, Log).Export(ctx, opts.InputPath, format, opts.OutputPath); err != nil {
		utils.ShowError("Export failed", err, nil)
		return err
	}
	fmt.Println(opts.OutputPath)
	return nil
}

// validateExportFlags resolves the format and the default output name.
func validateExportFlags(opts *Options) (ffmpeg.Format, error) {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		utils.ShowError("Unable to access input directory", err, nil)
		return "", err
	}
	if !info.IsDir() {
		err := fmt.Errorf("is not a directory")
		utils.ShowError("Input path must be a directory of frames", err, nil)
		return "", err
	}

	format, err := ffmpeg.ParseFormat(exportFormat)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return "", err
	}
	if opts.OutputPath == "" {
		opts.OutputPath = ffmpeg.DownloadName("export", format)
	}
	return format, nil
}
