package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
	"github.com/andresmejia3/outfit360/internal/metrics"
)

// Stage transforms one frame. It must not modify its input and must return a
// new buffer.
type Stage interface {
	Name() string
	Apply(ctx context.Context, img *image.RGBA) (*image.RGBA, error)
}

// Mode selects how a stage puts sanitized pixels back.
type Mode int

const (
	// ModeMasked blends through a feathered mask.
	ModeMasked Mode = iota
	// ModeBox copies rectangles directly.
	ModeBox
)

func (m Mode) String() string {
	if m == ModeBox {
		return "box"
	}
	return "masked"
}

// ParseMode accepts "masked" or "box".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "masked", "mask":
		return ModeMasked, nil
	case "box":
		return ModeBox, nil
	}
	return 0, fmt.Errorf("invalid composite mode '%s'. Must be one of: masked, box", s)
}

// Policy decides what a detection failure does to a frame.
type Policy int

const (
	// PolicyOpen skips the failed effect and still writes the frame.
	PolicyOpen Policy = iota
	// PolicyClosed fails the frame.
	PolicyClosed
)

func (p Policy) String() string {
	if p == PolicyClosed {
		return "closed"
	}
	return "open"
}

// ParsePolicy accepts "open" or "closed".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return PolicyOpen, nil
	case "closed":
		return PolicyClosed, nil
	}
	return 0, fmt.Errorf("invalid detection error policy '%s'. Must be one of: open, closed", s)
}

// StageError is a detection failure that a stage was allowed to skip.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

// Sanitizer runs stages left to right. Each stage sees only the previous
// stage's output.
type Sanitizer struct {
	stages []Stage
	policy Policy
	log    *zap.Logger
}

func NewSanitizer(policy Policy, log *zap.Logger, stages ...Stage) *Sanitizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sanitizer{stages: stages, policy: policy, log: log}
}

// Stages returns the configured stage names in order.
func (s *Sanitizer) Stages() []string {
	names := make([]string, len(s.stages))
	for i, st := range s.stages {
		names[i] = st.Name()
	}
	return names
}

// Run applies every stage. Under PolicyOpen a detection failure leaves the
// image as the previous stage produced it and is reported in skipped.
// The result is always a new buffer.
func (s *Sanitizer) Run(ctx context.Context, img *image.RGBA) (out *image.RGBA, skipped []StageError, err error) {
	cur := img
	for _, st := range s.stages {
		start := time.Now()
		next, err := st.Apply(ctx, cur)
		metrics.StageDuration.WithLabelValues(st.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			if errors.Is(err, domain.ErrDetection) && s.policy == PolicyOpen {
				s.log.Warn("detection failed, effect skipped", zap.String("stage", st.Name()), zap.Error(err))
				skipped = append(skipped, StageError{Stage: st.Name(), Err: err})
				continue
			}
			return nil, skipped, fmt.Errorf("%s stage: %w", st.Name(), err)
		}
		cur = next
	}
	if cur == img {
		cur = imgbuf.Clone(img)
	}
	return cur, skipped, nil
}
