// Package ffmpeg shells out to ffmpeg and ffprobe to turn a video into frames
// and a frame directory back into a GIF or MP4.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/metrics"
	"github.com/andresmejia3/outfit360/internal/utils"
)

// Runner executes external commands. Tests swap in a recorder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands for real through utils.SafeCommand.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	return utils.NewSafeCommand(ctx, name, args...).Run()
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	s := utils.NewSafeCommand(ctx, name, args...)
	out, err := s.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, s.Stderr.String())
	}
	return out, nil
}

// timed runs fn and records its duration under op.
func timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.FFmpegDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// Probe describes a video as reported by ffprobe.
type Probe struct {
	Duration float64
	Frames   int
}

type ffprobeOutput struct {
	Streams []struct {
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeVideo reads the duration and frame count of path. The container
// metadata is tried first; when it has no frame count the packets are
// counted, which reads the whole file. Missing values are left at zero.
func ProbeVideo(ctx context.Context, r Runner, path string, log *zap.Logger) (Probe, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, ok := r.(ExecRunner); ok {
		if _, err := exec.LookPath("ffprobe"); err != nil {
			return Probe{}, fmt.Errorf("ffprobe not found: %w", err)
		}
	}

	var p Probe
	out, err := r.Output(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=nb_frames:format=duration", "-of", "json", path)
	if err != nil {
		return p, err
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return p, fmt.Errorf("ffprobe json: %w", err)
	}
	p.Duration, _ = strconv.ParseFloat(res.Format.Duration, 64)
	if len(res.Streams) > 0 {
		if n, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && n > 0 {
			p.Frames = n
			return p, nil
		}
	}

	log.Info("frame count missing from metadata, counting packets", zap.String("video", path))
	out, err = r.Output(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	if err != nil {
		return p, err
	}
	res = ffprobeOutput{}
	if err := json.Unmarshal(out, &res); err != nil {
		return p, fmt.Errorf("ffprobe json: %w", err)
	}
	if len(res.Streams) > 0 {
		p.Frames, _ = strconv.Atoi(res.Streams[0].NbReadPackets)
	}
	return p, nil
}
