// Package detect wraps the black-box face and pose estimators. It owns the
// lazy model handles, the resize into detection space and the mapping of
// every result back into image space.
package detect

import (
	"context"
	"image"

	"github.com/andresmejia3/outfit360/internal/geom"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

// DefaultDetectionSize is the longest side of the detection-space image.
const DefaultDetectionSize = 512

// Tensor is a packed RGB image (no alpha), row-major, 3 bytes per pixel.
type Tensor struct {
	Pix    []byte
	Width  int
	Height int
}

// FaceCandidate is a face as reported by an estimator, in detection space.
type FaceCandidate struct {
	Box       geom.Region
	Keypoints []geom.Point
	Score     float64
}

// PoseCandidate is one person skeleton in detection space.
type PoseCandidate struct {
	Keypoints []geom.Point
	Score     float64
}

// FaceEstimator is a face detection capability.
type FaceEstimator interface {
	EstimateFaces(ctx context.Context, t Tensor) ([]FaceCandidate, error)
}

// PoseEstimator is a pose detection capability.
type PoseEstimator interface {
	EstimatePoses(ctx context.Context, t Tensor) ([]PoseCandidate, error)
}

// FaceEstimatorFunc adapts a function to FaceEstimator.
type FaceEstimatorFunc func(ctx context.Context, t Tensor) ([]FaceCandidate, error)

func (f FaceEstimatorFunc) EstimateFaces(ctx context.Context, t Tensor) ([]FaceCandidate, error) {
	return f(ctx, t)
}

// PoseEstimatorFunc adapts a function to PoseEstimator.
type PoseEstimatorFunc func(ctx context.Context, t Tensor) ([]PoseCandidate, error)

func (f PoseEstimatorFunc) EstimatePoses(ctx context.Context, t Tensor) ([]PoseCandidate, error) {
	return f(ctx, t)
}

// Face is a detected face in image space.
type Face struct {
	Box       geom.Region
	Keypoints []geom.Point
	Score     float64
}

// normalize shrinks img to fit inside size x size and strips alpha. It
// returns the tensor and the factors that map detection space back to an
// origW x origH frame.
func normalize(img *image.RGBA, origW, origH, size int) (Tensor, float64, float64) {
	b := img.Bounds()
	dw, dh := geom.FitInside(b.Dx(), b.Dy(), size)

	src := img
	if dw != b.Dx() || dh != b.Dy() {
		src = imgbuf.Resize(img, dw, dh)
	}

	t := Tensor{Pix: imgbuf.PackRGB(src), Width: dw, Height: dh}
	return t, float64(origW) / float64(dw), float64(origH) / float64(dh)
}

// Option configures a detector.
type Option func(*options)

type options struct {
	size int
}

// WithDetectionSize overrides the detection-space bound.
func WithDetectionSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{size: DefaultDetectionSize}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
