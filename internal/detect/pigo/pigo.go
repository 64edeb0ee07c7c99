// Package pigo is the pure-Go face capability, a pixel intensity comparison
// cascade. It reports boxes only; callers fall back to ellipse masks.
package pigo

import (
	"context"
	"fmt"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/geom"
)

// Config tunes the cascade run.
type Config struct {
	CascadePath string
	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64
	IoU         float64
	Quality     float32
}

// DefaultConfig matches the parameters commonly used with the facefinder
// cascade.
func DefaultConfig(cascadePath string) Config {
	return Config{
		CascadePath: cascadePath,
		MinSize:     20,
		MaxSize:     1000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IoU:         0.2,
		Quality:     5.0,
	}
}

// Detector runs an unpacked cascade. It only reads the classifier, so it is
// safe for concurrent use.
type Detector struct {
	classifier *pigo.Pigo
	cfg        Config
}

// Loader reads and unpacks the cascade when the handle is first ensured.
func Loader(cfg Config) detect.Loader[detect.FaceEstimator] {
	return func(ctx context.Context) (detect.FaceEstimator, error) {
		data, err := os.ReadFile(cfg.CascadePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read cascade file: %w", err)
		}
		return New(data, cfg)
	}
}

// New unpacks a cascade file.
func New(cascade []byte, cfg Config) (*Detector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &Detector{classifier: classifier, cfg: cfg}, nil
}

// EstimateFaces implements detect.FaceEstimator.
func (d *Detector) EstimateFaces(ctx context.Context, t detect.Tensor) ([]detect.FaceCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := pigo.CascadeParams{
		MinSize:     d.cfg.MinSize,
		MaxSize:     d.cfg.MaxSize,
		ShiftFactor: d.cfg.ShiftFactor,
		ScaleFactor: d.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: grayscale(t),
			Rows:   t.Height,
			Cols:   t.Width,
			Dim:    t.Width,
		},
	}

	// Angle 0: upright faces only.
	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.cfg.IoU)
	return toCandidates(dets, d.cfg.Quality), nil
}

// toCandidates drops low-quality hits and turns (row, col, scale) into a
// square box. Scale is the side length of the detection window.
func toCandidates(dets []pigo.Detection, quality float32) []detect.FaceCandidate {
	out := make([]detect.FaceCandidate, 0, len(dets))
	for _, det := range dets {
		if det.Q < quality {
			continue
		}
		out = append(out, detect.FaceCandidate{
			Box: geom.Region{
				XMin:   det.Col - det.Scale/2,
				YMin:   det.Row - det.Scale/2,
				Width:  det.Scale,
				Height: det.Scale,
				Space:  geom.DetectionSpace,
			},
			Score: float64(det.Q),
		})
	}
	return out
}

// grayscale converts packed RGB to luma with the Rec. 601 weights.
func grayscale(t detect.Tensor) []uint8 {
	gray := make([]uint8, t.Width*t.Height)
	for i := range gray {
		r := uint32(t.Pix[i*3])
		g := uint32(t.Pix[i*3+1])
		b := uint32(t.Pix[i*3+2])
		gray[i] = uint8((r*299 + g*587 + b*114) / 1000)
	}
	return gray
}
