// Package pipeline runs the frame privacy pipeline over a directory of
// frames: background blur, then face sanitization, each stage feeding the
// next, with frames processed concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
	"github.com/andresmejia3/outfit360/internal/metrics"
	"github.com/andresmejia3/outfit360/internal/tracing"
	"github.com/andresmejia3/outfit360/internal/utils"
)

// Run statuses reported to a Recorder.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// FrameIssue is one frame that failed or was written without every effect.
type FrameIssue struct {
	Frame  string `json:"frame"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// BatchResult aggregates a ProcessFrames run. Succeeded counts written
// frames, degraded ones included.
type BatchResult struct {
	RunID     string        `json:"runId"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Degraded  []FrameIssue  `json:"degraded"`
	Failures  []FrameIssue  `json:"failures"`
	Duration  time.Duration `json:"duration"`
}

// RunInfo describes a batch when it starts.
type RunInfo struct {
	ID             string
	InputDir       string
	OutputDir      string
	BlurFace       bool
	BlurBackground bool
	Total          int
}

// Recorder persists run outcomes. Errors are logged, never fatal.
type Recorder interface {
	StartRun(ctx context.Context, run RunInfo) error
	FinishRun(ctx context.Context, res *BatchResult, status string) error
}

// Options tune a Processor.
type Options struct {
	Workers      int
	Policy       Policy
	JPEGQuality  int
	FrameTimeout time.Duration
	// OnFrame is called once per frame after it is handled. err is nil for
	// written frames.
	OnFrame  func(name string, err error)
	Recorder Recorder
	Logger   *zap.Logger
}

// Processor owns the configured stages. A nil stage means that effect is
// unavailable.
type Processor struct {
	background *BackgroundStage
	face       *FaceStage
	opts       Options
	log        *zap.Logger
}

func NewProcessor(background *BackgroundStage, face *FaceStage, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = imgbuf.DefaultJPEGQuality
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{background: background, face: face, opts: opts, log: log}
}

// ProcessFrames sanitizes every frame in inputDir into outputDir under the
// same name. Per-frame failures are collected in the result. Model
// initialization and compositing failures abort the batch and are returned
// alongside the partial result.
func (p *Processor) ProcessFrames(ctx context.Context, inputDir, outputDir string, blurFace, blurBackground bool) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{RunID: uuid.NewString(), Degraded: []FrameIssue{}, Failures: []FrameIssue{}}

	ctx, span := tracing.Tracer("pipeline").Start(ctx, "ProcessFrames")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", res.RunID),
		attribute.Bool("blur.face", blurFace),
		attribute.Bool("blur.background", blurBackground),
	)

	sanitizer, err := p.sanitizer(ctx, blurFace, blurBackground)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	names, err := utils.ListFrames(inputDir)
	if err != nil {
		return res, domain.ErrIO.WithError(fmt.Errorf("list frames: %w", err))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return res, domain.ErrIO.WithError(fmt.Errorf("create output dir: %w", err))
	}
	res.Total = len(names)

	log := p.log.With(zap.String("run_id", res.RunID))
	log.Info("batch started",
		zap.String("input", inputDir),
		zap.String("output", outputDir),
		zap.Int("frames", len(names)),
		zap.Strings("stages", sanitizer.Stages()),
		zap.Int("workers", p.opts.Workers),
	)
	p.record(func(r Recorder) error {
		return r.StartRun(ctx, RunInfo{
			ID: res.RunID, InputDir: inputDir, OutputDir: outputDir,
			BlurFace: blurFace, BlurBackground: blurBackground, Total: len(names),
		})
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()

			out := p.processFrame(gctx, sanitizer, name, filepath.Join(inputDir, name), filepath.Join(outputDir, name))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.fatal != nil:
				metrics.FramesProcessedTotal.WithLabelValues("failed").Inc()
				return fmt.Errorf("frame %s: %w", name, out.fatal)
			case out.failure != nil:
				res.Failures = append(res.Failures, *out.failure)
				metrics.FramesProcessedTotal.WithLabelValues("failed").Inc()
				metrics.FrameIssuesTotal.WithLabelValues(out.failure.Kind).Inc()
				log.Error("frame failed", zap.String("frame", name), zap.String("kind", out.failure.Kind), zap.String("reason", out.failure.Reason))
			default:
				res.Succeeded++
				res.Degraded = append(res.Degraded, out.degraded...)
				outcome := "ok"
				if len(out.degraded) > 0 {
					outcome = "degraded"
					metrics.FrameIssuesTotal.WithLabelValues(domain.ErrDetection.Code).Add(float64(len(out.degraded)))
				}
				metrics.FramesProcessedTotal.WithLabelValues(outcome).Inc()
			}
			if p.opts.OnFrame != nil {
				var ferr error
				if out.failure != nil {
					ferr = errors.New(out.failure.Reason)
				}
				p.opts.OnFrame(name, ferr)
			}
			return nil
		})
	}

	batchErr := g.Wait()
	if batchErr == nil && ctx.Err() != nil {
		batchErr = ctx.Err()
	}

	sortIssues(res.Degraded)
	sortIssues(res.Failures)
	res.Duration = time.Since(start)
	metrics.BatchDuration.Observe(res.Duration.Seconds())

	status := StatusCompleted
	if batchErr != nil {
		status = StatusAborted
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Error())
		log.Error("batch aborted", zap.Error(batchErr), zap.String("kind", domain.Kind(batchErr)))
	}
	// The batch context may already be cancelled; the ledger write must
	// still go through.
	p.record(func(r Recorder) error {
		return r.FinishRun(context.WithoutCancel(ctx), res, status)
	})

	span.SetAttributes(
		attribute.Int("frames.total", res.Total),
		attribute.Int("frames.succeeded", res.Succeeded),
		attribute.Int("frames.failed", len(res.Failures)),
		attribute.Int("frames.degraded", len(res.Degraded)),
	)
	log.Info("batch finished",
		zap.String("status", status),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", len(res.Failures)),
		zap.Int("degraded", len(res.Degraded)),
		zap.Duration("duration", res.Duration),
	)
	return res, batchErr
}

// sanitizer checks the requested effects against the configured stages and
// builds every model up front, so an init failure stops the batch before
// any frame is touched.
func (p *Processor) sanitizer(ctx context.Context, blurFace, blurBackground bool) (*Sanitizer, error) {
	var stages []Stage
	if blurBackground {
		if p.background == nil || p.background.Body == nil {
			return nil, domain.ErrConfig.WithError(errors.New("background blur requested but no body detector is configured"))
		}
		if err := p.background.Body.EnsureReady(ctx); err != nil {
			return nil, err
		}
		stages = append(stages, p.background)
	}
	if blurFace {
		if p.face == nil || p.face.Face == nil {
			return nil, domain.ErrConfig.WithError(errors.New("face blur requested but no face detector is configured"))
		}
		if err := p.face.Face.EnsureReady(ctx); err != nil {
			return nil, err
		}
		stages = append(stages, p.face)
	}
	return NewSanitizer(p.opts.Policy, p.log, stages...), nil
}

type frameOutcome struct {
	degraded []FrameIssue
	failure  *FrameIssue
	fatal    error
}

func (p *Processor) processFrame(ctx context.Context, s *Sanitizer, name, inPath, outPath string) frameOutcome {
	ctx, span := tracing.Tracer("pipeline").Start(ctx, "frame")
	defer span.End()
	span.SetAttributes(attribute.String("frame", name))

	fail := func(err error) frameOutcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return frameOutcome{failure: &FrameIssue{Frame: name, Kind: domain.Kind(err), Reason: err.Error()}}
	}

	img, format, err := imgbuf.Load(inPath)
	if err != nil {
		return fail(err)
	}

	fctx := ctx
	if p.opts.FrameTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.opts.FrameTimeout)
		defer cancel()
	}

	out, skipped, err := s.Run(fctx, img)
	// A cancelled batch must not write frames whose detection was cut short.
	if ctx.Err() != nil {
		return frameOutcome{fatal: ctx.Err()}
	}
	if err != nil {
		if errors.Is(err, domain.ErrModelInit) || errors.Is(err, domain.ErrCompositing) || errors.Is(err, domain.ErrConfig) {
			span.RecordError(err)
			return frameOutcome{fatal: err}
		}
		return fail(err)
	}

	if err := imgbuf.Save(outPath, out, format, p.opts.JPEGQuality); err != nil {
		return fail(err)
	}

	var degraded []FrameIssue
	for _, se := range skipped {
		degraded = append(degraded, FrameIssue{Frame: name, Kind: domain.Kind(se.Err), Reason: se.Error()})
	}
	if len(degraded) > 0 {
		span.SetAttributes(attribute.Int("stages.skipped", len(degraded)))
	}
	return frameOutcome{degraded: degraded}
}

func (p *Processor) record(fn func(Recorder) error) {
	if p.opts.Recorder == nil {
		return
	}
	if err := fn(p.opts.Recorder); err != nil {
		p.log.Warn("run ledger write failed", zap.Error(err))
	}
}

func sortIssues(issues []FrameIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := utils.FrameNumber(issues[i].Frame), utils.FrameNumber(issues[j].Frame)
		if a != b {
			return a < b
		}
		return issues[i].Frame < issues[j].Frame
	})
}
