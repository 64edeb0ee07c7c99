package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/detect/factory"
	"github.com/andresmejia3/outfit360/internal/detect/pigo"
	"github.com/andresmejia3/outfit360/internal/detect/rekognition"
	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/effect"
	"github.com/andresmejia3/outfit360/internal/mask"
	"github.com/andresmejia3/outfit360/internal/pipeline"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Workers      int           `env:"WORKERS"       envDefault:"0"`
	FrameTimeout time.Duration `env:"FRAME_TIMEOUT" envDefault:"30s"`

	FaceBackend   string   `env:"FACE_BACKEND"   envDefault:"pigo"`
	BodyBackend   string   `env:"BODY_BACKEND"   envDefault:"none"`
	PigoCascade   string   `env:"PIGO_CASCADE"   envDefault:"models/facefinder"`
	PigoMinFace   int      `env:"PIGO_MIN_FACE"  envDefault:"20"`
	PigoQuality   float64  `env:"PIGO_QUALITY"   envDefault:"5"`
	SidecarCmd    []string `env:"SIDECAR_CMD"    envDefault:"python3 -u python/detector.py" envSeparator:" "`
	DetectionSize int      `env:"DETECTION_SIZE" envDefault:"512"`

	AWSRegion                string  `env:"AWS_REGION"                 envDefault:"us-east-1"`
	RekognitionMinConfidence float64 `env:"REKOGNITION_MIN_CONFIDENCE" envDefault:"80"`

	BlurRadius           int     `env:"BLUR_RADIUS"            envDefault:"40"`
	BlurPasses           int     `env:"BLUR_PASSES"            envDefault:"3"`
	PixelBlock           int     `env:"PIXEL_BLOCK"            envDefault:"20"`
	FaceEffect           string  `env:"FACE_EFFECT"            envDefault:"blur"`
	MaskStyle            string  `env:"MASK_STYLE"             envDefault:"feathered-polygon"`
	MaskPadding          float64 `env:"MASK_PADDING"           envDefault:"0.2"`
	FaceComposite        string  `env:"FACE_COMPOSITE"         envDefault:"masked"`
	BackgroundComposite  string  `env:"BACKGROUND_COMPOSITE"   envDefault:"box"`
	DetectionErrorPolicy string  `env:"DETECTION_ERROR_POLICY" envDefault:"open"`
	JPEGQuality          int     `env:"JPEG_QUALITY"           envDefault:"90"`

	ExtractFPS int    `env:"EXTRACT_FPS" envDefault:"24"`
	UploadsDir string `env:"UPLOADS_DIR" envDefault:"uploads"`
	Port       int    `env:"PORT"        envDefault:"3000"`

	DatabaseURL      string `env:"DATABASE_URL"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"       envDefault:"outfit360"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL"    envDefault:"false"`
	MinIOBucket    string `env:"MINIO_BUCKET"     envDefault:"outfit360-frames"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load parses the environment. Command-line flags are applied on top by the
// caller before Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, domain.ErrConfig.WithError(err)
	}
	return cfg, nil
}

// Validate checks every enumerated value and range.
func (c *Config) Validate() error {
	var errs []error
	if _, err := effect.ParseSpec(c.FaceEffect); err != nil {
		errs = append(errs, err)
	}
	if _, err := mask.ParseStyle(c.MaskStyle); err != nil {
		errs = append(errs, err)
	}
	if _, err := pipeline.ParseMode(c.FaceComposite); err != nil {
		errs = append(errs, fmt.Errorf("FACE_COMPOSITE: %w", err))
	}
	if _, err := pipeline.ParseMode(c.BackgroundComposite); err != nil {
		errs = append(errs, fmt.Errorf("BACKGROUND_COMPOSITE: %w", err))
	}
	if _, err := pipeline.ParsePolicy(c.DetectionErrorPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", c.Workers))
	}
	if c.BlurRadius < 1 || c.BlurPasses < 1 || c.PixelBlock < 1 {
		errs = append(errs, errors.New("blur radius, blur passes and pixel block must be >= 1"))
	}
	if c.MaskPadding < 0 {
		errs = append(errs, fmt.Errorf("mask padding must be >= 0, got %g", c.MaskPadding))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be in [1,100], got %d", c.JPEGQuality))
	}
	if c.DetectionSize < 16 {
		errs = append(errs, fmt.Errorf("detection size must be >= 16, got %d", c.DetectionSize))
	}
	if c.ExtractFPS < 1 {
		errs = append(errs, fmt.Errorf("extract fps must be >= 1, got %d", c.ExtractFPS))
	}
	if len(errs) > 0 {
		return domain.ErrConfig.WithError(errors.Join(errs...))
	}
	return nil
}

// DSN returns DATABASE_URL, or builds one from the POSTGRES_* variables.
// It is empty when neither is set, which disables the run ledger.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.PostgresHost == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   c.PostgresHost + ":" + c.PostgresPort,
		Path:   "/" + c.PostgresDB,
	}
	return u.String()
}

// Detectors maps the backend settings onto the factory.
func (c *Config) Detectors() factory.Config {
	pc := pigo.DefaultConfig(c.PigoCascade)
	pc.MinSize = c.PigoMinFace
	pc.Quality = float32(c.PigoQuality)

	return factory.Config{
		FaceBackend:    factory.Backend(strings.ToLower(c.FaceBackend)),
		BodyBackend:    factory.Backend(strings.ToLower(c.BodyBackend)),
		Pigo:           pc,
		SidecarCommand: c.SidecarCmd,
		Rekognition: rekognition.Config{
			Region:        c.AWSRegion,
			MinConfidence: float32(c.RekognitionMinConfidence),
			JPEGQuality:   c.JPEGQuality,
		},
		DetectionSize: c.DetectionSize,
	}
}

// Stages builds the pipeline stages over d. A stage is nil when its detector
// is disabled.
func (c *Config) Stages(d *factory.Detectors, log *zap.Logger) (*pipeline.BackgroundStage, *pipeline.FaceStage, error) {
	faceEffect, err := effect.ParseSpec(c.FaceEffect)
	if err != nil {
		return nil, nil, domain.ErrConfig.WithError(err)
	}
	faceEffect.Radius, faceEffect.Passes, faceEffect.Block = c.BlurRadius, c.BlurPasses, c.PixelBlock

	style, err := mask.ParseStyle(c.MaskStyle)
	if err != nil {
		return nil, nil, domain.ErrConfig.WithError(err)
	}
	faceMode, err := pipeline.ParseMode(c.FaceComposite)
	if err != nil {
		return nil, nil, domain.ErrConfig.WithError(err)
	}
	bgMode, err := pipeline.ParseMode(c.BackgroundComposite)
	if err != nil {
		return nil, nil, domain.ErrConfig.WithError(err)
	}

	opts := mask.DefaultOptions()
	opts.Padding = c.MaskPadding

	var bg *pipeline.BackgroundStage
	if d.Body != nil {
		blur := effect.DefaultBlur()
		blur.Radius, blur.Passes = c.BlurRadius, c.BlurPasses
		bg = &pipeline.BackgroundStage{Body: d.Body, Effect: blur, Mode: bgMode, Mask: opts, Log: log}
	}
	var face *pipeline.FaceStage
	if d.Face != nil {
		face = &pipeline.FaceStage{Face: d.Face, Effect: faceEffect, Mode: faceMode, Style: style, Mask: opts}
	}
	return bg, face, nil
}

// ProcessorOptions carries the batch settings. Callbacks and the recorder
// are left for the caller.
func (c *Config) ProcessorOptions(log *zap.Logger) (pipeline.Options, error) {
	policy, err := pipeline.ParsePolicy(c.DetectionErrorPolicy)
	if err != nil {
		return pipeline.Options{}, domain.ErrConfig.WithError(err)
	}
	return pipeline.Options{
		Workers:      c.Workers,
		Policy:       policy,
		JPEGQuality:  c.JPEGQuality,
		FrameTimeout: c.FrameTimeout,
		Logger:       log,
	}, nil
}
