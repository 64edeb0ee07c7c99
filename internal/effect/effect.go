// Package effect implements the region sanitizers: a multi-pass box blur
// and block-mean pixelation. Both return new buffers.
package effect

import (
	"fmt"
	"image"
	"strings"

	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

const (
	DefaultRadius = 40
	DefaultPasses = 3
	DefaultBlock  = 20
)

// Spec selects which effects run over a region and with what strength.
type Spec struct {
	Blur     bool
	Pixelate bool
	Radius   int
	Passes   int
	Block    int
}

// DefaultBlur is the strong blur used for backgrounds and faces.
func DefaultBlur() Spec {
	return Spec{Blur: true, Radius: DefaultRadius, Passes: DefaultPasses, Block: DefaultBlock}
}

// ParseSpec maps the effect names accepted on the command line ("blur",
// "pixelate", "both") to a Spec with default strengths.
func ParseSpec(name string) (Spec, error) {
	s := DefaultBlur()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "blur":
	case "pixelate", "pixel":
		s.Blur, s.Pixelate = false, true
	case "both":
		s.Pixelate = true
	default:
		return Spec{}, fmt.Errorf("invalid effect '%s'. Must be one of: blur, pixelate, both", name)
	}
	return s, nil
}

// Apply runs the selected effects over rect. When both are enabled the blur
// runs first and the pixelation averages the blurred pixels.
func (s Spec) Apply(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	out := img
	if s.Blur {
		out = Blur(out, rect, s.Radius, s.Passes)
	}
	if s.Pixelate {
		out = Pixelate(out, rect, s.Block)
	}
	if out == img {
		out = imgbuf.Clone(img)
	}
	return out
}
