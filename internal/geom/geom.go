// Package geom holds the coordinate types shared by the detectors, the mask
// builder and the compositor, and the transforms between detection space and
// image space.
package geom

import (
	"image"
	"math"
)

// Space identifies the coordinate frame a region or keypoint lives in.
type Space int

const (
	// DetectionSpace is the resized frame handed to a detector.
	DetectionSpace Space = iota
	// ImageSpace is the pixel grid of the original frame.
	ImageSpace
)

func (s Space) String() string {
	if s == ImageSpace {
		return "image"
	}
	return "detection"
}

// Point is a keypoint. Keypoints keep sub-pixel precision.
type Point struct {
	X float64
	Y float64
}

// Region is an axis-aligned box in whole pixels.
type Region struct {
	XMin   int
	YMin   int
	Width  int
	Height int
	Space  Space
}

// Degenerate reports whether the region covers no pixels. Callers treat a
// degenerate region as "no detection".
func (r Region) Degenerate() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.XMin, r.YMin, r.XMin+r.Width, r.YMin+r.Height)
}

// Center returns the box center.
func (r Region) Center() Point {
	return Point{
		X: float64(r.XMin) + float64(r.Width)/2,
		Y: float64(r.YMin) + float64(r.Height)/2,
	}
}

// Pad grows the box about its center by frac of each side
// (0.2 turns a 20px box into a 24px one).
func (r Region) Pad(frac float64) Region {
	if frac <= 0 {
		return r
	}
	dx := round(float64(r.Width) * frac / 2)
	dy := round(float64(r.Height) * frac / 2)
	return Region{
		XMin:   r.XMin - dx,
		YMin:   r.YMin - dy,
		Width:  r.Width + 2*dx,
		Height: r.Height + 2*dy,
		Space:  r.Space,
	}
}

// FromBounds builds a region from min/max extents, rounding outward so the
// extreme points stay inside.
func FromBounds(minX, minY, maxX, maxY float64, space Space) Region {
	x0 := int(math.Floor(minX))
	y0 := int(math.Floor(minY))
	x1 := int(math.Ceil(maxX))
	y1 := int(math.Ceil(maxY))
	return Region{XMin: x0, YMin: y0, Width: x1 - x0, Height: y1 - y0, Space: space}
}

// Rescale maps a region by independent X and Y factors, rounding to whole
// pixels. The result is in image space.
func Rescale(r Region, scaleX, scaleY float64) Region {
	return Region{
		XMin:   round(float64(r.XMin) * scaleX),
		YMin:   round(float64(r.YMin) * scaleY),
		Width:  round(float64(r.Width) * scaleX),
		Height: round(float64(r.Height) * scaleY),
		Space:  ImageSpace,
	}
}

// RescalePoints maps keypoints by independent X and Y factors.
func RescalePoints(pts []Point, scaleX, scaleY float64) []Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Point{X: p.X * scaleX, Y: p.Y * scaleY}
	}
	return out
}

// Clamp fits a region inside a width x height image. The origin is clamped
// into the image and the far edges are shrunk, never translated. A region
// that starts at or beyond the far edge collapses to zero size.
func Clamp(r Region, width, height int) Region {
	r.XMin, r.Width = clampAxis(r.XMin, r.Width, width)
	r.YMin, r.Height = clampAxis(r.YMin, r.Height, height)
	return r
}

func clampAxis(start, size, dim int) (int, int) {
	if dim <= 0 {
		return 0, 0
	}
	if size < 0 {
		size = 0
	}
	if start < 0 {
		start = 0
	}
	if start >= dim {
		return dim - 1, 0
	}
	if start+size > dim {
		size = dim - start
	}
	return start, size
}

// FitInside returns the size of a w x h image scaled down so its longer side
// equals limit. Images already inside the box keep their size.
func FitInside(w, h, limit int) (int, int) {
	if w <= 0 || h <= 0 || limit <= 0 {
		return w, h
	}
	if w <= limit && h <= limit {
		return w, h
	}
	scale := float64(limit) / float64(w)
	if h > w {
		scale = float64(limit) / float64(h)
	}
	dw := round(float64(w) * scale)
	dh := round(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	return dw, dh
}

func round(v float64) int {
	return int(math.Round(v))
}
