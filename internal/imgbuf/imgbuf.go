// Package imgbuf is the image codec layer of the pipeline: it loads frames
// into *image.RGBA buffers, writes them back in their original format, and
// provides the copy, crop and resize primitives the stages are built on.
package imgbuf

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/outfit360/internal/domain"
	"golang.org/x/image/draw"
)

// Format is an image container the pipeline reads and writes.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

// DefaultJPEGQuality is used when a caller passes a quality of 0.
const DefaultJPEGQuality = 90

// FormatFromPath infers the codec from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return JPEG, true
	case ".png":
		return PNG, true
	}
	return "", false
}

// Load reads and decodes a frame. Every failure is an IO error, including a
// file that exists but does not decode.
func Load(path string) (*image.RGBA, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", domain.ErrIO.WithError(err)
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", domain.ErrIO.WithError(fmt.Errorf("decode %s: %w", filepath.Base(path), err))
	}
	return ToRGBA(img), Format(name), nil
}

// writeFile is swapped in tests to fail mid-write.
var writeFile = os.WriteFile

// Save encodes img to path. The file is written to a temporary sibling first
// and renamed, so a reader never observes a half-written frame.
func Save(path string, img image.Image, format Format, quality int) error {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return domain.ErrIO.WithError(err)
	}

	tmp := path + ".tmp"
	if err := writeFile(tmp, buf.Bytes(), 0644); err != nil {
		os.Remove(tmp)
		return domain.ErrIO.WithError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.ErrIO.WithError(err)
	}
	return nil
}

// Encode writes img to buf in the given format.
func Encode(buf *bytes.Buffer, img image.Image, format Format, quality int) error {
	switch format {
	case PNG:
		return png.Encode(buf, img)
	case JPEG:
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(buf, img, &jpeg.Options{Quality: quality})
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
}

// ToRGBA returns img as an *image.RGBA anchored at the origin. An RGBA that
// is already anchored at the origin is returned as-is.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Clone returns a deep copy of img.
func Clone(img *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(dst.Pix, img.Pix)
	return dst
}

// Crop copies the pixels of r (clipped to img) into a new buffer anchored at
// the origin.
func Crop(img *image.RGBA, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := img.PixOffset(r.Min.X, r.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()*4], img.Pix[src:src+r.Dx()*4])
	}
	return dst
}

// Resize scales img to exactly w x h with bilinear filtering.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// PackRGB strips alpha and returns tightly packed row-major RGB bytes.
func PackRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		row := img.Pix[off : off+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}
