package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/utils"
)

type Format string

const (
	FormatGIF Format = "gif"
	FormatMP4 Format = "mp4"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGIF, FormatMP4:
		return f, nil
	}
	return "", fmt.Errorf("invalid export format '%s'. Must be one of: gif, mp4", s)
}

// ContentType is the MIME type served for an export.
func (f Format) ContentType() string {
	if f == FormatGIF {
		return "image/gif"
	}
	return "video/mp4"
}

// DownloadName is the attachment name offered for an export of run id.
func DownloadName(id string, f Format) string {
	return fmt.Sprintf("outfit360_%s.%s", id, f)
}

const (
	gifPalette = "setpts=4*PTS,scale=800:-1:flags=lanczos,palettegen=stats_mode=full"
	gifRender  = "setpts=4*PTS,scale=800:-1:flags=lanczos[x];[x][1:v]paletteuse=dither=bayer:bayer_scale=5:diff_mode=rectangle"
	mp4Filter  = "setpts=4*PTS,scale=1280:-2"
)

type Exporter struct {
	run    Runner
	logger *zap.Logger
}

func NewExporter(run Runner, logger *zap.Logger) *Exporter {
	if run == nil {
		run = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{run: run, logger: logger}
}

// Export encodes the frames in framesDir, in frame-number order, into outPath.
// The concat list and palette live in a scratch directory removed on return.
func (x *Exporter) Export(ctx context.Context, framesDir string, format Format, outPath string) error {
	frames, err := utils.ListFrames(framesDir)
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("export %s: %w", framesDir, ErrNoFrames)
	}

	scratch, err := os.MkdirTemp("", "outfit360-export-*")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	listPath := filepath.Join(scratch, "frames.txt")
	if err := WriteConcatList(listPath, framesDir, frames); err != nil {
		return err
	}

	err = timed("export_"+string(format), func() error {
		for _, args := range x.passes(format, listPath, filepath.Join(scratch, "palette.png"), outPath) {
			if err := x.run.Run(ctx, "ffmpeg", args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", format, err)
	}

	x.logger.Info("export written",
		zap.String("format", string(format)),
		zap.String("output", outPath),
		zap.Int("frames", len(frames)),
	)
	return nil
}

// passes returns the ffmpeg invocations for format, in order.
func (x *Exporter) passes(format Format, listPath, palettePath, outPath string) [][]string {
	input := []string{"-hide_banner", "-loglevel", "error", "-y", "-f", "concat", "-safe", "0", "-i", listPath}
	with := func(extra ...string) []string {
		return append(append([]string{}, input...), extra...)
	}

	if format == FormatGIF {
		return [][]string{
			with("-vf", gifPalette, palettePath),
			with("-i", palettePath, "-lavfi", gifRender, "-f", "gif", outPath),
		}
	}
	return [][]string{
		with("-c:v", "libx264", "-preset", "slow", "-crf", "22", "-pix_fmt", "yuv420p",
			"-vf", mp4Filter, "-movflags", "+faststart", outPath),
	}
}

// WriteConcatList writes an ffmpeg concat demuxer list for frames, which
// must already be in playback order.
func WriteConcatList(listPath, dir string, frames []string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve frames dir: %w", err)
	}
	var b strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&b, "file '%s'\n", quote(filepath.Join(abs, f)))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// quote escapes single quotes the way the concat demuxer expects.
func quote(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
