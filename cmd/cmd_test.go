package cmd

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/config"
	"github.com/andresmejia3/outfit360/internal/ffmpeg"
	"github.com/andresmejia3/outfit360/internal/pipeline"
)

func newFlagCmd(o *Options) *cobra.Command {
	c := &cobra.Command{Use: "t"}
	f := c.Flags()
	f.StringVar(&o.LogLevel, "log-level", "info", "")
	f.IntVar(&o.Workers, "workers", 0, "")
	f.StringVar(&o.FaceBackend, "face-backend", "pigo", "")
	f.StringVar(&o.BodyBackend, "body-backend", "none", "")
	f.StringVar(&o.Effect, "effect", "blur", "")
	f.StringVar(&o.MaskStyle, "mask-style", "feathered-polygon", "")
	f.StringVar(&o.FaceComposite, "face-composite", "masked", "")
	f.StringVar(&o.BackgroundComposite, "background-composite", "box", "")
	f.StringVar(&o.DetectionErrorPolicy, "on-detection-error", "open", "")
	f.StringVar(&o.FrameTimeout, "frame-timeout", "30s", "")
	return c
}

func TestApplyFlagsOnlyOverridesChanged(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.FaceEffect = "pixelate"
	cfg.Workers = 3

	var o Options
	c := newFlagCmd(&o)
	require.NoError(t, c.Flags().Set("body-backend", "sidecar"))
	require.NoError(t, c.Flags().Set("frame-timeout", "2s"))

	require.NoError(t, applyFlags(c, cfg, o))
	assert.Equal(t, "sidecar", cfg.BodyBackend)
	assert.Equal(t, 2*time.Second, cfg.FrameTimeout)
	// Untouched flags keep the environment values.
	assert.Equal(t, "pixelate", cfg.FaceEffect)
	assert.Equal(t, 3, cfg.Workers)
}

func TestApplyFlagsBadTimeout(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	var o Options
	c := newFlagCmd(&o)
	require.NoError(t, c.Flags().Set("frame-timeout", "soon"))
	assert.Error(t, applyFlags(c, cfg, o))
}

func TestValidateSanitizeFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "frame_0001.jpg")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{InputPath: dir, OutputPath: filepath.Join(dir, "out"), BlurFace: true}, false},
		{"missing input", Options{InputPath: filepath.Join(dir, "nope"), OutputPath: "out"}, true},
		{"input is a file", Options{InputPath: file, OutputPath: "out"}, true},
		{"same dirs", Options{InputPath: dir, OutputPath: dir + string(os.PathSeparator)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSanitizeFlags(&tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateExportFlags(t *testing.T) {
	dir := t.TempDir()

	exportFormat = "mp4"
	t.Cleanup(func() { exportFormat = "gif" })
	opts := Options{InputPath: dir}
	format, err := validateExportFlags(&opts)
	require.NoError(t, err)
	assert.Equal(t, ffmpeg.FormatMP4, format)
	assert.Equal(t, "outfit360_export.mp4", opts.OutputPath)

	exportFormat = "webm"
	_, err = validateExportFlags(&Options{InputPath: dir})
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &pipeline.BatchResult{
		RunID: "run-1", Total: 3, Succeeded: 2, Duration: 1500 * time.Millisecond,
		Degraded: []pipeline.FrameIssue{{Frame: "frame_0002.jpg", Kind: "DETECTION", Reason: "face detector timed out"}},
		Failures: []pipeline.FrameIssue{{Frame: "frame_0003.jpg", Kind: "IO", Reason: "decode failed"}},
	})

	out := buf.String()
	assert.Contains(t, out, "2/3 frames written in 1.5s (run run-1)")
	assert.Contains(t, out, "1 frame(s) written without every effect")
	assert.Contains(t, out, "frame_0002.jpg [DETECTION] face detector timed out")
	assert.Contains(t, out, "frame_0003.jpg [IO] decode failed")

	buf.Reset()
	printSummary(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestEffects(t *testing.T) {
	assert.Equal(t, "face+background", effects(true, true))
	assert.Equal(t, "face", effects(true, false))
	assert.Equal(t, "background", effects(false, true))
	assert.Equal(t, "copy", effects(false, false))
}

func writeFrame(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 0xAA
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func TestRunSanitizeCopiesWithoutEffects(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.FaceBackend = "none"
	cfg.BodyBackend = "none"
	cfg.Workers = 2

	oldCfg, oldLog, oldDB := Cfg, Log, DB
	Cfg, Log, DB = cfg, zap.NewNop(), nil
	t.Cleanup(func() { Cfg, Log, DB = oldCfg, oldLog, oldDB })

	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "processed")
	for _, name := range []string{"frame_0001.jpg", "frame_0002.jpg", "frame_0010.jpg"} {
		writeFrame(t, filepath.Join(in, name))
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("skip"), 0o644))

	res, err := runSanitize(context.Background(), Options{InputPath: in, OutputPath: out})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Succeeded)
	assert.Empty(t, res.Failures)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.FileExists(t, filepath.Join(out, "frame_0010.jpg"))
}

func TestPrompterConfirm(t *testing.T) {
	tests := []struct {
		input string
		yes   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", false, false},
		{"\n", false, false},
		{"", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := prompter{in: bufio.NewReader(strings.NewReader(tt.input)), out: &out, yes: tt.yes}
		assert.Equal(t, tt.want, p.confirm("Proceed?"), "input %q yes=%v", tt.input, tt.yes)
		if !tt.yes {
			assert.Equal(t, "Proceed? [y/N]: ", out.String())
		}
	}
}

func TestResetUploads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abc", "raw-frames"), 0o755))

	declined := prompter{in: bufio.NewReader(strings.NewReader("n\n")), out: io.Discard}
	resetUploads(declined, dir)
	assert.DirExists(t, dir)

	resetUploads(prompter{yes: true}, dir)
	assert.NoDirExists(t, dir)

	// A missing directory is skipped without asking.
	resetUploads(prompter{}, dir)
}
