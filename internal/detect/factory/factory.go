// Package factory builds the face and body detectors from configuration.
// Backends that serve both capabilities share a single underlying model.
package factory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/detect"
	"github.com/andresmejia3/outfit360/internal/detect/pigo"
	"github.com/andresmejia3/outfit360/internal/detect/rekognition"
	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/worker"
)

// Backend names a detection capability provider.
type Backend string

const (
	BackendPigo        Backend = "pigo"
	BackendSidecar     Backend = "sidecar"
	BackendRekognition Backend = "rekognition"
	BackendNone        Backend = "none"
)

// Config selects and configures the backends.
type Config struct {
	FaceBackend    Backend
	BodyBackend    Backend
	Pigo           pigo.Config
	SidecarCommand []string
	Rekognition    rekognition.Config
	DetectionSize  int
}

// Detectors holds the built detectors. Face or Body is nil when its backend
// is "none".
type Detectors struct {
	Face *detect.FaceDetector
	Body *detect.BodyDetector

	closers []func() error
}

// New validates cfg and builds lazy detectors. No model is loaded until the
// first EnsureReady or detection call.
func New(cfg Config, log *zap.Logger) (*Detectors, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, b := range []Backend{cfg.FaceBackend, cfg.BodyBackend} {
		if err := validate(b); err != nil {
			return nil, err
		}
	}
	if cfg.BodyBackend == BackendPigo {
		return nil, domain.ErrConfig.WithError(errors.New("pigo backend has no pose support"))
	}
	if (cfg.FaceBackend == BackendSidecar || cfg.BodyBackend == BackendSidecar) && len(cfg.SidecarCommand) == 0 {
		return nil, domain.ErrConfig.WithError(errors.New("sidecar backend needs a command"))
	}

	d := &Detectors{}
	opts := []detect.Option{detect.WithDetectionSize(cfg.DetectionSize)}

	var sidecar *detect.Handle[*worker.Sidecar]
	if cfg.FaceBackend == BackendSidecar || cfg.BodyBackend == BackendSidecar {
		sidecar = detect.NewHandle("sidecar", func(ctx context.Context) (*worker.Sidecar, error) {
			// The process outlives the call that happened to start it.
			return worker.NewSidecar(context.WithoutCancel(ctx), 0, cfg.SidecarCommand, log)
		})
		d.closers = append(d.closers, sidecar.Close)
	}

	var rekog *detect.Handle[*rekognition.Client]
	if cfg.FaceBackend == BackendRekognition || cfg.BodyBackend == BackendRekognition {
		rekog = detect.NewHandle("rekognition", func(ctx context.Context) (*rekognition.Client, error) {
			return rekognition.NewClient(ctx, cfg.Rekognition)
		})
	}

	switch cfg.FaceBackend {
	case BackendPigo:
		h := detect.NewHandle[detect.FaceEstimator]("pigo", pigo.Loader(cfg.Pigo))
		d.Face = detect.NewFaceDetector(h, opts...)
	case BackendSidecar:
		h := detect.NewHandle("sidecar-face", func(ctx context.Context) (detect.FaceEstimator, error) {
			s, err := sidecar.Ensure(ctx)
			if err != nil {
				return nil, err
			}
			return detect.FaceEstimatorFunc(s.EstimateFaces), nil
		})
		d.Face = detect.NewFaceDetector(h, opts...)
	case BackendRekognition:
		h := detect.NewHandle("rekognition-face", func(ctx context.Context) (detect.FaceEstimator, error) {
			c, err := rekog.Ensure(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		})
		d.Face = detect.NewFaceDetector(h, opts...)
	}
	if d.Face != nil {
		d.closers = append(d.closers, d.Face.Close)
	}

	switch cfg.BodyBackend {
	case BackendSidecar:
		h := detect.NewHandle("sidecar-pose", func(ctx context.Context) (detect.PoseEstimator, error) {
			s, err := sidecar.Ensure(ctx)
			if err != nil {
				return nil, err
			}
			return detect.PoseEstimatorFunc(s.EstimatePoses), nil
		})
		d.Body = detect.NewBodyDetector(h, opts...)
	case BackendRekognition:
		h := detect.NewHandle("rekognition-pose", func(ctx context.Context) (detect.PoseEstimator, error) {
			c, err := rekog.Ensure(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		})
		d.Body = detect.NewBodyDetector(h, opts...)
	}
	if d.Body != nil {
		d.closers = append(d.closers, d.Body.Close)
	}

	log.Debug("detectors configured",
		zap.String("face", string(cfg.FaceBackend)),
		zap.String("body", string(cfg.BodyBackend)),
	)
	return d, nil
}

// Close releases every model that was built.
func (d *Detectors) Close() error {
	var errs []error
	// Detectors first, shared processes last.
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validate(b Backend) error {
	switch b {
	case BackendPigo, BackendSidecar, BackendRekognition, BackendNone:
		return nil
	}
	return domain.ErrConfig.WithError(fmt.Errorf("unknown detection backend %q (supported: %s, %s, %s, %s)",
		b, BackendPigo, BackendSidecar, BackendRekognition, BackendNone))
}
