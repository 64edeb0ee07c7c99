package pipeline

import (
	"context"
	"image"
	"math"

	"github.com/andresmejia3/outfit360/internal/composite"
	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/effect"
	"github.com/andresmejia3/outfit360/internal/geom"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
	"github.com/andresmejia3/outfit360/internal/mask"
	"github.com/andresmejia3/outfit360/internal/metrics"
)

// FaceStage sanitizes every detected face. No faces leaves the frame as is.
type FaceStage struct {
	Face   *detect.FaceDetector
	Effect effect.Spec
	Mode   Mode
	Style  mask.Style
	Mask   mask.Options
}

func (s *FaceStage) Name() string { return "face" }

func (s *FaceStage) Apply(ctx context.Context, img *image.RGBA) (*image.RGBA, error) {
	b := img.Bounds()
	faces, err := s.Face.DetectFaces(ctx, img, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	shapes := make([]mask.Shape, 0, len(faces))
	for _, f := range faces {
		box := geom.Clamp(f.Box, b.Dx(), b.Dy())
		if box.Degenerate() {
			continue
		}
		shapes = append(shapes, mask.Shape{Box: box, Keypoints: f.Keypoints})
	}
	if len(shapes) == 0 {
		return imgbuf.Clone(img), nil
	}
	metrics.DetectionsTotal.WithLabelValues("face").Add(float64(len(shapes)))

	if s.Mode == ModeBox {
		return s.applyBoxes(img, shapes)
	}
	return s.applyMasked(img, shapes)
}

// applyBoxes cuts out each face box, sanitizes it on its own and pastes it
// back in place.
func (s *FaceStage) applyBoxes(img *image.RGBA, shapes []mask.Shape) (*image.RGBA, error) {
	out := img
	for _, sh := range shapes {
		r := sh.Box.Rect()
		patch := imgbuf.Crop(out, r)
		patch = s.Effect.Apply(patch, patch.Bounds())

		var err error
		if out, err = composite.PasteAt(out, patch, r.Min); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyMasked sanitizes the area around every face on one copy, then blends
// that copy through the union of the face masks.
func (s *FaceStage) applyMasked(img *image.RGBA, shapes []mask.Shape) (*image.RGBA, error) {
	b := img.Bounds()
	sanitized := img
	for _, sh := range shapes {
		r := s.coverage(sh).Intersect(b)
		if r.Empty() {
			continue
		}
		sanitized = s.Effect.Apply(sanitized, r)
	}

	m, err := mask.Build(b.Dx(), b.Dy(), shapes, s.Style, s.Mask)
	if err != nil {
		return nil, err
	}
	return composite.Blend(img, sanitized, m)
}

// coverage is the rectangle the mask can reach for sh: the padded box, grown
// to the keypoints when the style draws polygons.
func (s *FaceStage) coverage(sh mask.Shape) image.Rectangle {
	r := sh.Box.Pad(s.Mask.Padding).Rect()
	if !s.Style.Polygon() || len(sh.Keypoints) < 3 {
		return r
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range sh.Keypoints {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return r.Union(geom.FromBounds(minX, minY, maxX, maxY, geom.ImageSpace).Rect())
}
