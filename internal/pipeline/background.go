package pipeline

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/composite"
	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/effect"
	"github.com/andresmejia3/outfit360/internal/mask"
	"github.com/andresmejia3/outfit360/internal/metrics"
)

// BackgroundStage blurs everything but the subject. With no subject the
// whole frame is blurred.
type BackgroundStage struct {
	Body   *detect.BodyDetector
	Effect effect.Spec
	Mode   Mode
	Mask   mask.Options
	Log    *zap.Logger
}

func (s *BackgroundStage) Name() string { return "background" }

func (s *BackgroundStage) Apply(ctx context.Context, img *image.RGBA) (*image.RGBA, error) {
	b := img.Bounds()
	body, ok, err := s.Body.DetectBody(ctx, img, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}

	blurred := s.Effect.Apply(img, b)
	if !ok {
		if s.Log != nil {
			s.Log.Debug("no subject found, blurring whole frame")
		}
		return blurred, nil
	}
	metrics.DetectionsTotal.WithLabelValues("body").Inc()

	if s.Mode == ModeBox {
		return composite.Paste(blurred, img, body.Rect())
	}

	m, err := mask.Build(b.Dx(), b.Dy(), []mask.Shape{{Box: body}}, mask.FeatheredEllipse, s.Mask)
	if err != nil {
		return nil, err
	}
	return composite.Blend(img, blurred, mask.Invert(m))
}
