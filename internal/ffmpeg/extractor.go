package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/utils"
)

const DefaultFPS = 24

// FramePattern is the file name template extracted frames are written under.
const FramePattern = "frame_%04d.jpg"

var ErrNoFrames = errors.New("no frames extracted from video")

type Extractor struct {
	fps    int
	run    Runner
	logger *zap.Logger
}

func NewExtractor(fps int, run Runner, logger *zap.Logger) *Extractor {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if run == nil {
		run = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fps: fps, run: run, logger: logger}
}

// Extract samples videoPath at the configured rate into outDir and returns the
// number of frames written.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, fmt.Errorf("create frames dir: %w", err)
	}

	err := timed("extract", func() error {
		return e.run.Run(ctx, "ffmpeg", e.args(videoPath, outDir)...)
	})
	if err != nil {
		return 0, fmt.Errorf("extract frames: %w", err)
	}

	frames, err := utils.ListFrames(outDir)
	if err != nil {
		return 0, fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return 0, ErrNoFrames
	}

	e.logger.Info("frames extracted",
		zap.String("video", videoPath),
		zap.Int("count", len(frames)),
		zap.Int("fps", e.fps),
	)
	return len(frames), nil
}

func (e *Extractor) args(videoPath, outDir string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", "fps=" + strconv.Itoa(e.fps),
		"-y",
		filepath.Join(outDir, FramePattern),
	}
}
