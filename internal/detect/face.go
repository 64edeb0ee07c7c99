package detect

import (
	"context"
	"image"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/geom"
)

// FaceDetector finds faces and reports them in image space.
type FaceDetector struct {
	handle *Handle[FaceEstimator]
	size   int
}

func NewFaceDetector(h *Handle[FaceEstimator], opts ...Option) *FaceDetector {
	o := buildOptions(opts)
	return &FaceDetector{handle: h, size: o.size}
}

// EnsureReady builds the face model if it has not been built yet.
func (d *FaceDetector) EnsureReady(ctx context.Context) error {
	_, err := d.handle.Ensure(ctx)
	return err
}

// Close releases the underlying model.
func (d *FaceDetector) Close() error {
	return d.handle.Close()
}

// DetectFaces runs the face model on a copy of img shrunk into detection
// space and maps every box and keypoint back to an originalWidth x
// originalHeight frame. Boxes are not clamped. No faces is an empty slice.
func (d *FaceDetector) DetectFaces(ctx context.Context, img *image.RGBA, originalWidth, originalHeight int) ([]Face, error) {
	model, err := d.handle.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	t, sx, sy := normalize(img, originalWidth, originalHeight, d.size)
	candidates, err := model.EstimateFaces(ctx, t)
	if err != nil {
		return nil, domain.ErrDetection.WithError(err)
	}

	faces := make([]Face, 0, len(candidates))
	for _, c := range candidates {
		faces = append(faces, Face{
			Box:       geom.Rescale(c.Box, sx, sy),
			Keypoints: geom.RescalePoints(c.Keypoints, sx, sy),
			Score:     c.Score,
		})
	}
	return faces, nil
}
