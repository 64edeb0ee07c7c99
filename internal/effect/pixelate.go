package effect

import (
	"image"

	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

// Pixelate returns a copy of img where rect is split into block x block
// tiles (clipped at the rect edge) and every tile is filled with its mean
// RGBA. A tile is summed completely before any of its pixels are written.
func Pixelate(img *image.RGBA, rect image.Rectangle, block int) *image.RGBA {
	out := imgbuf.Clone(img)
	rect = rect.Intersect(out.Bounds())
	if rect.Empty() {
		return out
	}
	if block < 1 {
		block = 1
	}

	stride := out.Stride
	pix := out.Pix
	imgMinX, imgMinY := out.Rect.Min.X, out.Rect.Min.Y

	for y := rect.Min.Y; y < rect.Max.Y; y += block {
		y2 := y + block
		if y2 > rect.Max.Y {
			y2 = rect.Max.Y
		}
		for x := rect.Min.X; x < rect.Max.X; x += block {
			x2 := x + block
			if x2 > rect.Max.X {
				x2 = rect.Max.X
			}

			var sums [4]uint64
			for by := y; by < y2; by++ {
				rowStart := (by-imgMinY)*stride + (x-imgMinX)*4
				for off := rowStart; off < rowStart+(x2-x)*4; off += 4 {
					sums[0] += uint64(pix[off])
					sums[1] += uint64(pix[off+1])
					sums[2] += uint64(pix[off+2])
					sums[3] += uint64(pix[off+3])
				}
			}

			n := uint64((x2 - x) * (y2 - y))
			r, g, b, a := uint8(sums[0]/n), uint8(sums[1]/n), uint8(sums[2]/n), uint8(sums[3]/n)

			for by := y; by < y2; by++ {
				rowStart := (by-imgMinY)*stride + (x-imgMinX)*4
				for off := rowStart; off < rowStart+(x2-x)*4; off += 4 {
					pix[off] = r
					pix[off+1] = g
					pix[off+2] = b
					pix[off+3] = a
				}
			}
		}
	}
	return out
}
