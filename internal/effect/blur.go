package effect

import (
	"image"
	"sync"

	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

// scratch is the working memory of one Blur call: the horizontal pass
// output and the running column sums of the vertical pass. Frame workers
// share the pool, so a region's buffers are reused across frames.
type scratch struct {
	rows []uint8
	cols []uint32
}

var scratchPool = sync.Pool{New: func() any { return new(scratch) }}

// size returns rows and cols resized for a w x h region. cols is zeroed.
func (s *scratch) size(w, h int) ([]uint8, []uint32) {
	if n := w * h * 4; cap(s.rows) < n {
		s.rows = make([]uint8, n)
	} else {
		s.rows = s.rows[:n]
	}
	if n := w * 4; cap(s.cols) < n {
		s.cols = make([]uint32, n)
	} else {
		s.cols = s.cols[:n]
		clear(s.cols)
	}
	return s.rows, s.cols
}

// Blur returns a copy of img with rect box-blurred passes times. Pixels
// outside rect are untouched and never sampled; the window is edge-clamped
// inside rect.
//
// Three passes of radius r approximate a Gaussian with sigma close to r
// (a box of width w = 2r+1 over n passes has variance n(w²-1)/12), so the
// default radius 40 with 3 passes stands in for a sigma-40 Gaussian.
func Blur(img *image.RGBA, rect image.Rectangle, radius, passes int) *image.RGBA {
	out := imgbuf.Clone(img)
	rect = rect.Intersect(out.Bounds())
	if rect.Empty() || radius < 1 {
		return out
	}
	if passes < 1 {
		passes = 1
	}
	sc := scratchPool.Get().(*scratch)
	defer scratchPool.Put(sc)
	for i := 0; i < passes; i++ {
		boxBlur(out, rect, radius, sc)
	}
	return out
}

// boxBlur is a separable sliding-window box blur over rect, in place.
// Cost per pixel is constant regardless of radius.
func boxBlur(img *image.RGBA, rect image.Rectangle, radius int, sc *scratch) {
	w, h := rect.Dx(), rect.Dy()

	// A window wider than the region only repeats edge pixels.
	if radius > w/2 {
		radius = w / 2
	}
	if radius > h/2 {
		radius = h / 2
	}
	if radius < 1 {
		return
	}

	buf, colSums := sc.size(w, h)

	stride := img.Stride
	pix := img.Pix
	minX, minY := rect.Min.X, rect.Min.Y
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	count := uint32(2*radius + 1)

	// 1. Horizontal pass: image -> buffer
	for y := 0; y < h; y++ {
		rowStart := (minY + y - imgMinY) * stride
		bufRowStart := y * w * 4

		var sums [4]uint32
		for k := -radius; k <= radius; k++ {
			off := rowStart + (minX+clampIndex(k, w)-imgMinX)*4
			for c := 0; c < 4; c++ {
				sums[c] += uint32(pix[off+c])
			}
		}

		for x := 0; x < w; x++ {
			bufOff := bufRowStart + x*4
			for c := 0; c < 4; c++ {
				buf[bufOff+c] = uint8(sums[c] / count)
			}

			offRemove := rowStart + (minX+clampIndex(x-radius, w)-imgMinX)*4
			offAdd := rowStart + (minX+clampIndex(x+radius+1, w)-imgMinX)*4
			for c := 0; c < 4; c++ {
				sums[c] = sums[c] - uint32(pix[offRemove+c]) + uint32(pix[offAdd+c])
			}
		}
	}

	// 2. Vertical pass: buffer -> image, row by row with running sums for
	// every column to stay cache friendly.
	neededCols := w * 4

	for k := -radius; k <= radius; k++ {
		rowOffset := clampIndex(k, h) * w * 4
		for i := 0; i < neededCols; i++ {
			colSums[i] += uint32(buf[rowOffset+i])
		}
	}

	for y := 0; y < h; y++ {
		dstRowOff := (minY+y-imgMinY)*stride + (minX-imgMinX)*4
		removeOff := clampIndex(y-radius, h) * w * 4
		addOff := clampIndex(y+radius+1, h) * w * 4

		for i := 0; i < neededCols; i++ {
			pix[dstRowOff+i] = uint8(colSums[i] / count)
			colSums[i] = colSums[i] - uint32(buf[removeOff+i]) + uint32(buf[addOff+i])
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
