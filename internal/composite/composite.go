// Package composite layers sanitized pixels back onto a frame, either through
// a blend mask or by copying a rectangle verbatim.
package composite

import (
	"fmt"
	"image"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/imgbuf"
)

// Blend returns original*(1-a) + sanitized*a per channel, where a is the
// mask value scaled to [0,1]. A zero mask pixel yields the original pixel
// exactly and a 255 pixel yields the sanitized one exactly.
func Blend(original, sanitized *image.RGBA, m *image.Alpha) (*image.RGBA, error) {
	b := original.Bounds()
	if sanitized.Bounds() != b || m.Bounds() != b {
		return nil, domain.ErrCompositing.WithError(fmt.Errorf("blend bounds mismatch: original %v, sanitized %v, mask %v",
			b, sanitized.Bounds(), m.Bounds()))
	}

	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		oOff := original.PixOffset(b.Min.X, y)
		sOff := sanitized.PixOffset(b.Min.X, y)
		dOff := out.PixOffset(b.Min.X, y)
		mOff := m.PixOffset(b.Min.X, y)

		for x := 0; x < b.Dx(); x++ {
			a := uint32(m.Pix[mOff+x])
			o := original.Pix[oOff+x*4 : oOff+x*4+4]
			d := out.Pix[dOff+x*4 : dOff+x*4+4]
			switch a {
			case 0:
				copy(d, o)
			case 255:
				copy(d, sanitized.Pix[sOff+x*4:sOff+x*4+4])
			default:
				s := sanitized.Pix[sOff+x*4 : sOff+x*4+4]
				for c := 0; c < 4; c++ {
					d[c] = uint8((uint32(o[c])*(255-a) + uint32(s[c])*a + 127) / 255)
				}
			}
		}
	}
	return out, nil
}

// Paste returns a copy of dst with the pixels of src inside r copied over
// at the same coordinates. r must lie within both buffers.
func Paste(dst, src *image.RGBA, r image.Rectangle) (*image.RGBA, error) {
	if !r.In(dst.Bounds()) || !r.In(src.Bounds()) {
		return nil, domain.ErrCompositing.WithError(fmt.Errorf("paste rect %v outside buffers %v / %v", r, dst.Bounds(), src.Bounds()))
	}

	out := imgbuf.Clone(dst)
	n := r.Dx() * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := out.PixOffset(r.Min.X, y)
		s := src.PixOffset(r.Min.X, y)
		copy(out.Pix[d:d+n], src.Pix[s:s+n])
	}
	return out, nil
}

// PasteAt returns a copy of dst with all of patch copied so that its origin
// lands on at. The patch must fit inside dst.
func PasteAt(dst, patch *image.RGBA, at image.Point) (*image.RGBA, error) {
	r := patch.Bounds().Sub(patch.Bounds().Min).Add(at)
	if !r.In(dst.Bounds()) {
		return nil, domain.ErrCompositing.WithError(fmt.Errorf("patch %v at %v outside %v", patch.Bounds(), at, dst.Bounds()))
	}

	out := imgbuf.Clone(dst)
	n := r.Dx() * 4
	for y := 0; y < r.Dy(); y++ {
		d := out.PixOffset(r.Min.X, r.Min.Y+y)
		s := patch.PixOffset(patch.Bounds().Min.X, patch.Bounds().Min.Y+y)
		copy(out.Pix[d:d+n], patch.Pix[s:s+n])
	}
	return out, nil
}
