package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/ffmpeg"
	"github.com/andresmejia3/outfit360/internal/storage"
	"github.com/andresmejia3/outfit360/internal/utils"
)

var (
	processOpts    Options
	processWorkDir string
	processExport  string
	processPublish bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract frames from a video, sanitize them, and optionally export or publish the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := openLedger(cmd.Context(), false); err != nil {
			return err
		}
		return runProcess(cmd.Context(), processOpts)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.InputPath, "input", "i", "", "Path to input video")
	processCmd.Flags().StringVarP(&processWorkDir, "workdir", "w", "", "Working directory for frames (default: <UPLOADS_DIR>/<video id>)")
	processCmd.Flags().BoolVar(&processOpts.BlurFace, "blur-face", false, "Sanitize detected faces")
	processCmd.Flags().BoolVar(&processOpts.BlurBackground, "blur-background", false, "Blur everything but the detected person")
	processCmd.Flags().StringVar(&processExport, "export", "", "Also encode the frames: gif or mp4")
	processCmd.Flags().BoolVar(&processPublish, "publish", false, "Upload the frames to object storage (requires MINIO_ENDPOINT)")

	processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}

func runProcess(ctx context.Context, opts Options) error {
	format, err := validateProcessFlags(&opts)
	if err != nil {
		return err
	}

	id, err := utils.GenerateVideoID(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to identify video", err, nil)
		return err
	}
	id = id[:16]
	workDir := processWorkDir
	if workDir == "" {
		workDir = filepath.Join(Cfg.UploadsDir, id)
	}
	raw, processed := filepath.Join(workDir, "raw-frames"), filepath.Join(workDir, "processed-frames")

	if probe, err := ffmpeg.ProbeVideo(ctx, ffmpeg.ExecRunner{}, opts.InputPath, Log); err != nil {
		Log.Warn("could not probe video", zap.Error(err))
	} else {
		Log.Info("video probed",
			zap.Float64("duration", probe.Duration),
			zap.Int("source_frames", probe.Frames),
			zap.Int("expected_frames", int(probe.Duration*float64(Cfg.ExtractFPS))),
		)
	}

	fmt.Fprintf(os.Stderr, "🎞️  Extracting frames at %d fps...\n", Cfg.ExtractFPS)
	n, err := ffmpeg.NewExtractor(Cfg.ExtractFPS, nil, Log).Extract(ctx, opts.InputPath, raw)
	if err != nil {
		utils.ShowError("Frame extraction failed", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🖼️  %d frames extracted to %s\n", n, raw)

	source := raw
	runID := id
	if opts.BlurFace || opts.BlurBackground {
		res, err := runSanitize(ctx, Options{
			InputPath: raw, OutputPath: processed,
			BlurFace: opts.BlurFace, BlurBackground: opts.BlurBackground,
		})
		if err != nil {
			return err
		}
		source, runID = processed, res.RunID
	}

	if format != "" {
		out := filepath.Join(workDir, ffmpeg.DownloadName(id, format))
		fmt.Fprintf(os.Stderr, "📦 Exporting %s...\n", format)
		if err := ffmpeg.NewExporter(nil, Log).Export(ctx, source, format, out); err != nil {
			utils.ShowError("Export failed", err, nil)
			return err
		}
		fmt.Println(out)
	}

	if processPublish {
		keys, err := publish(ctx, runID, source)
		if err != nil {
			utils.ShowError("Publishing failed", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "☁️  Published %d frames to %s/%s/\n", len(keys), Cfg.MinIOBucket, runID)
	}
	return nil
}

func newPublisher() (*storage.Publisher, error) {
	return storage.NewPublisher(storage.Config{
		Endpoint:  Cfg.MinIOEndpoint,
		AccessKey: Cfg.MinIOAccessKey,
		SecretKey: Cfg.MinIOSecretKey,
		UseSSL:    Cfg.MinIOUseSSL,
		Bucket:    Cfg.MinIOBucket,
	}, Log)
}

func publish(ctx context.Context, runID, dir string) ([]string, error) {
	p, err := newPublisher()
	if err != nil {
		return nil, err
	}
	if err := p.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return p.PublishFrames(ctx, runID, dir)
}

// validateProcessFlags checks the video and the requested outputs before ffmpeg runs.
func validateProcessFlags(opts *Options) (ffmpeg.Format, error) {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return "", err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return "", err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return "", err
	}

	var format ffmpeg.Format
	if processExport != "" {
		if format, err = ffmpeg.ParseFormat(processExport); err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return "", err
		}
	}

	if processPublish && Cfg.MinIOEndpoint == "" {
		err := fmt.Errorf("--publish requires MINIO_ENDPOINT")
		utils.ShowError("Configuration Error", err, nil)
		return "", err
	}
	return format, nil
}
