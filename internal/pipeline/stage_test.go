package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

type funcStage struct {
	name string
	fn   func(img *image.RGBA) (*image.RGBA, error)
}

func (s funcStage) Name() string { return s.name }

func (s funcStage) Apply(ctx context.Context, img *image.RGBA) (*image.RGBA, error) {
	return s.fn(img)
}

// paint returns a stage that sets pixel (0,0) to v and records what it saw.
func paint(name string, v uint8, saw *uint8) funcStage {
	return funcStage{name: name, fn: func(img *image.RGBA) (*image.RGBA, error) {
		*saw = img.Pix[0]
		out := imgbuf.Clone(img)
		out.Pix[0] = v
		return out, nil
	}}
}

func TestSanitizerChainsStages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.SetRGBA(0, 0, color.RGBA{R: 1, A: 255})

	var sawFirst, sawSecond uint8
	s := NewSanitizer(PolicyOpen, nil, paint("background", 50, &sawFirst), paint("face", 99, &sawSecond))

	out, skipped, err := s.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, uint8(1), sawFirst)
	assert.Equal(t, uint8(50), sawSecond, "the second stage must read the first stage's output")
	assert.Equal(t, uint8(99), out.Pix[0])
	assert.Equal(t, uint8(1), src.Pix[0], "input must not be modified")
	assert.Equal(t, []string{"background", "face"}, s.Stages())
}

func TestSanitizerAlwaysReturnsNewBuffer(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	out, _, err := NewSanitizer(PolicyOpen, nil).Run(context.Background(), src)
	require.NoError(t, err)
	assert.NotSame(t, src, out)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestSanitizerPolicy(t *testing.T) {
	failing := funcStage{name: "face", fn: func(img *image.RGBA) (*image.RGBA, error) {
		return nil, domain.ErrDetection.WithError(errors.New("boom"))
	}}
	broken := funcStage{name: "background", fn: func(img *image.RGBA) (*image.RGBA, error) {
		return nil, domain.ErrCompositing
	}}
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))

	_, skipped, err := NewSanitizer(PolicyOpen, nil, failing).Run(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "face", skipped[0].Stage)

	_, _, err = NewSanitizer(PolicyClosed, nil, failing).Run(context.Background(), src)
	assert.True(t, errors.Is(err, domain.ErrDetection))

	_, _, err = NewSanitizer(PolicyOpen, nil, broken).Run(context.Background(), src)
	assert.True(t, errors.Is(err, domain.ErrCompositing), "only detection failures may be skipped")
}

func TestParseModeAndPolicy(t *testing.T) {
	m, err := ParseMode("BOX")
	require.NoError(t, err)
	assert.Equal(t, ModeBox, m)
	_, err = ParseMode("soft")
	assert.Error(t, err)

	p, err := ParsePolicy("closed")
	require.NoError(t, err)
	assert.Equal(t, PolicyClosed, p)
	_, err = ParsePolicy("maybe")
	assert.Error(t, err)
}
