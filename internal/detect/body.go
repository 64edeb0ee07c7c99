package detect

import (
	"context"
	"image"
	"math"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/geom"
)

// BodyDetector finds the dominant subject and reports its box in image space.
type BodyDetector struct {
	handle *Handle[PoseEstimator]
	size   int
}

func NewBodyDetector(h *Handle[PoseEstimator], opts ...Option) *BodyDetector {
	o := buildOptions(opts)
	return &BodyDetector{handle: h, size: o.size}
}

// EnsureReady builds the pose model if it has not been built yet.
func (d *BodyDetector) EnsureReady(ctx context.Context) error {
	_, err := d.handle.Ensure(ctx)
	return err
}

// Close releases the underlying model.
func (d *BodyDetector) Close() error {
	return d.handle.Close()
}

// DetectBody takes the first pose the model returns, boxes the extent of its
// keypoints, and maps the box back to image space clamped to the frame.
// ok is false when there is no pose or the box clamps to nothing.
func (d *BodyDetector) DetectBody(ctx context.Context, img *image.RGBA, originalWidth, originalHeight int) (geom.Region, bool, error) {
	model, err := d.handle.Ensure(ctx)
	if err != nil {
		return geom.Region{}, false, err
	}

	t, sx, sy := normalize(img, originalWidth, originalHeight, d.size)
	poses, err := model.EstimatePoses(ctx, t)
	if err != nil {
		return geom.Region{}, false, domain.ErrDetection.WithError(err)
	}
	if len(poses) == 0 || len(poses[0].Keypoints) == 0 {
		return geom.Region{}, false, nil
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range poses[0].Keypoints {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	box := geom.FromBounds(minX, minY, maxX, maxY, geom.DetectionSpace)
	box = geom.Clamp(geom.Rescale(box, sx, sy), originalWidth, originalHeight)
	if box.Degenerate() {
		return geom.Region{}, false, nil
	}
	return box, true, nil
}
