// Package mask rasterizes detected regions into a full-frame blend mask.
// A mask pixel is the weight of sanitized content at that pixel: 0 keeps the
// original, 255 replaces it.
package mask

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/geom"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// Style selects the shape drawn for each region and whether its edge is
// feathered.
type Style int

const (
	HardEllipse Style = iota
	HardPolygon
	FeatheredEllipse
	FeatheredPolygon
)

var styleNames = map[Style]string{
	HardEllipse:      "hard-ellipse",
	HardPolygon:      "hard-polygon",
	FeatheredEllipse: "feathered-ellipse",
	FeatheredPolygon: "feathered-polygon",
}

func (s Style) String() string {
	if n, ok := styleNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Style(%d)", int(s))
}

// Feathered reports whether the style applies the radial falloff.
func (s Style) Feathered() bool { return s == FeatheredEllipse || s == FeatheredPolygon }

// Polygon reports whether the style prefers keypoint polygons over ellipses.
func (s Style) Polygon() bool { return s == HardPolygon || s == FeatheredPolygon }

// ParseStyle accepts the names printed by Style.String.
func ParseStyle(name string) (Style, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range styleNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("invalid mask style '%s'. Must be one of: hard-ellipse, hard-polygon, feathered-ellipse, feathered-polygon", name)
}

// Shape is one region to mask. Keypoints, when there are at least three,
// outline the region more tightly than its box.
type Shape struct {
	Box       geom.Region
	Keypoints []geom.Point
}

// Options tune the geometry. Inner and Outer are fractions of the smaller
// box side: full weight up to Inner, fading to zero at Outer.
type Options struct {
	Padding float64
	Inner   float64
	Outer   float64
}

func DefaultOptions() Options {
	return Options{Padding: 0.2, Inner: 0.3, Outer: 0.8}
}

// Build rasterizes shapes into a width x height mask. Overlapping shapes
// combine by maximum, so a later shape never lowers an earlier one.
// Degenerate boxes are skipped.
func Build(width, height int, shapes []Shape, style Style, opts Options) (*image.Alpha, error) {
	m := image.NewAlpha(image.Rect(0, 0, width, height))
	for i, s := range shapes {
		if s.Box.Space != geom.ImageSpace {
			return nil, domain.ErrCompositing.WithError(fmt.Errorf("mask shape %d is in %s space", i, s.Box.Space))
		}
		if s.Box.Degenerate() {
			continue
		}

		var cov *image.Alpha
		if style.Polygon() && len(s.Keypoints) >= 3 {
			cov = polygonCoverage(m.Rect, s.Keypoints, !style.Feathered())
		} else {
			cov = ellipseCoverage(m.Rect, s.Box.Pad(opts.Padding))
		}
		if cov == nil {
			continue
		}

		var feather func(x, y int) float64
		if style.Feathered() {
			feather = radial(s.Box, opts)
		}
		union(m, cov, feather)
	}
	return m, nil
}

// Invert returns 255 - m.
func Invert(m *image.Alpha) *image.Alpha {
	out := image.NewAlpha(m.Rect)
	for i, v := range m.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// ellipseCoverage fills the ellipse inscribed in box, sampled at pixel
// centers. The result covers only the part of box inside bounds.
func ellipseCoverage(bounds image.Rectangle, box geom.Region) *image.Alpha {
	r := box.Rect().Intersect(bounds)
	if r.Empty() {
		return nil
	}
	cov := image.NewAlpha(r)
	c := box.Center()
	a, b := float64(box.Width)/2, float64(box.Height)/2

	for y := r.Min.Y; y < r.Max.Y; y++ {
		dy := (float64(y) + 0.5 - c.Y) / b
		for x := r.Min.X; x < r.Max.X; x++ {
			dx := (float64(x) + 0.5 - c.X) / a
			if dx*dx+dy*dy <= 1 {
				cov.Pix[cov.PixOffset(x, y)] = 255
			}
		}
	}
	return cov
}

// polygonCoverage fills the closed polygon through pts in order with
// anti-aliased coverage. hard snaps coverage to 0 or 255 at the midpoint.
func polygonCoverage(bounds image.Rectangle, pts []geom.Point, hard bool) *image.Alpha {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	r := geom.FromBounds(minX, minY, maxX, maxY, geom.ImageSpace).Rect().Intersect(bounds)
	if r.Empty() {
		return nil
	}

	z := vector.NewRasterizer(r.Dx(), r.Dy())
	z.DrawOp = draw.Src
	ox, oy := float64(r.Min.X), float64(r.Min.Y)
	z.MoveTo(float32(pts[0].X-ox), float32(pts[0].Y-oy))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X-ox), float32(p.Y-oy))
	}
	z.ClosePath()

	local := image.NewAlpha(image.Rect(0, 0, r.Dx(), r.Dy()))
	z.Draw(local, local.Bounds(), image.Opaque, image.Point{})

	cov := image.NewAlpha(r)
	for y := 0; y < r.Dy(); y++ {
		copy(cov.Pix[y*cov.Stride:y*cov.Stride+r.Dx()], local.Pix[y*local.Stride:y*local.Stride+r.Dx()])
	}
	if hard {
		for i, v := range cov.Pix {
			if v >= 128 {
				cov.Pix[i] = 255
			} else {
				cov.Pix[i] = 0
			}
		}
	}
	return cov
}

// radial returns the feather weight in [0,1] for a pixel, centered on the
// box center.
func radial(box geom.Region, opts Options) func(x, y int) float64 {
	c := box.Center()
	side := float64(box.Width)
	if box.Height < box.Width {
		side = float64(box.Height)
	}
	inner, outer := opts.Inner*side, opts.Outer*side

	return func(x, y int) float64 {
		d := math.Hypot(float64(x)+0.5-c.X, float64(y)+0.5-c.Y)
		switch {
		case d <= inner:
			return 1
		case d >= outer || outer <= inner:
			return 0
		default:
			return (outer - d) / (outer - inner)
		}
	}
}

// union merges cov into m by per-pixel maximum, scaling by feather when set.
func union(m, cov *image.Alpha, feather func(x, y int) float64) {
	r := cov.Rect.Intersect(m.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := cov.Pix[cov.PixOffset(x, y)]
			if v == 0 {
				continue
			}
			if feather != nil {
				v = uint8(math.Round(float64(v) * feather(x, y)))
			}
			off := m.PixOffset(x, y)
			if v > m.Pix[off] {
				m.Pix[off] = v
			}
		}
	}
}
