package effect

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func newSolid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(img, img.Bounds(), c)
	return img
}

func TestPixelateUniformIsUnchanged(t *testing.T) {
	src := newSolid(53, 41, color.RGBA{R: 120, G: 45, B: 200, A: 255})
	got := Pixelate(src, image.Rect(3, 3, 50, 38), 20)
	if !bytes.Equal(got.Pix, src.Pix) {
		t.Error("pixelating a uniform region changed it")
	}
}

func TestPixelateTwoHalves(t *testing.T) {
	a := color.RGBA{R: 200, G: 10, B: 10, A: 255}
	b := color.RGBA{R: 10, G: 10, B: 200, A: 255}

	tests := []struct {
		name  string
		split int // first column of color B
	}{
		{"split on block boundary", 40},
		{"split inside a block", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSolid(80, 40, a)
			fill(src, image.Rect(tt.split, 0, 80, 40), b)

			got := Pixelate(src, src.Bounds(), 20)

			for bx := 0; bx < 80; bx += 20 {
				for by := 0; by < 40; by += 20 {
					c := got.RGBAAt(bx+7, by+7)
					switch {
					case bx+20 <= tt.split:
						if c != a {
							t.Errorf("block (%d,%d) inside A = %v, want %v", bx, by, c, a)
						}
					case bx >= tt.split:
						if c != b {
							t.Errorf("block (%d,%d) inside B = %v, want %v", bx, by, c, b)
						}
					default:
						if c == a || c == b {
							t.Errorf("straddling block (%d,%d) kept a flat color %v", bx, by, c)
						}
						if got.RGBAAt(bx, by) != got.RGBAAt(bx+19, by+19) {
							t.Errorf("straddling block (%d,%d) is not flat", bx, by)
						}
					}
				}
			}
		})
	}
}

func TestPixelateMeanAndClippedEdges(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 5, 1))
	vals := []uint8{0, 10, 20, 30, 41}
	for x, v := range vals {
		src.SetRGBA(x, 0, color.RGBA{R: v, G: v, B: v, A: 255})
	}

	got := Pixelate(src, src.Bounds(), 4)

	// First block: mean(0,10,20,30) = 15. Clipped tail block keeps 41.
	for x := 0; x < 4; x++ {
		if c := got.RGBAAt(x, 0); c.R != 15 {
			t.Errorf("pixel %d = %d, want 15", x, c.R)
		}
	}
	if c := got.RGBAAt(4, 0); c.R != 41 {
		t.Errorf("clipped block = %d, want 41", c.R)
	}
	if src.RGBAAt(1, 0).R != 10 {
		t.Error("Pixelate modified its input")
	}
}

func TestBlurUniformIsUnchanged(t *testing.T) {
	src := newSolid(100, 100, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	got := Blur(src, src.Bounds(), DefaultRadius, DefaultPasses)
	if !bytes.Equal(got.Pix, src.Pix) {
		t.Error("blurring a uniform image changed it")
	}
}

func TestBlurStaysInsideRect(t *testing.T) {
	src := newSolid(60, 60, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	fill(src, image.Rect(30, 0, 60, 60), color.RGBA{R: 255, G: 255, B: 255, A: 255})
	rect := image.Rect(20, 20, 40, 40)

	got := Blur(src, rect, 5, 3)

	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			if (image.Point{X: x, Y: y}).In(rect) {
				continue
			}
			if got.RGBAAt(x, y) != src.RGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) outside rect changed", x, y)
			}
		}
	}

	// The edge between black and white inside the rect is softened.
	if c := got.RGBAAt(29, 30); c.R == 0 || c.R == 255 {
		t.Errorf("edge pixel not blurred: %v", c)
	}
	if src.RGBAAt(29, 30).R != 0 {
		t.Error("Blur modified its input")
	}
}

func TestBlurReusedScratchMatchesFresh(t *testing.T) {
	src := newSolid(64, 48, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	fill(src, image.Rect(20, 10, 44, 38), color.RGBA{R: 250, G: 240, B: 5, A: 255})

	// Dirty the pooled buffers with a larger region first.
	big := newSolid(120, 90, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	Blur(big, big.Bounds(), 9, 2)

	sc := new(scratch)
	want := src
	for i := 0; i < 2; i++ {
		next := want
		want = newSolid(64, 48, color.RGBA{})
		copy(want.Pix, next.Pix)
		boxBlur(want, image.Rect(4, 4, 60, 44), 7, sc)
	}

	got := Blur(src, image.Rect(4, 4, 60, 44), 7, 2)
	if !bytes.Equal(got.Pix, want.Pix) {
		t.Error("Blur with pooled scratch differs from a fresh scratch")
	}
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in          string
		blur, pixel bool
		wantErr     bool
	}{
		{"blur", true, false, false},
		{"", true, false, false},
		{"pixelate", false, true, false},
		{"both", true, true, false},
		{"sepia", false, false, true},
	}
	for _, tt := range tests {
		s, err := ParseSpec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSpec(%q) error = %v", tt.in, err)
			continue
		}
		if s.Blur != tt.blur || s.Pixelate != tt.pixel {
			t.Errorf("ParseSpec(%q) = %+v", tt.in, s)
		}
	}
}

func TestApplyBlurThenPixelate(t *testing.T) {
	src := newSolid(40, 40, color.RGBA{A: 255})
	fill(src, image.Rect(20, 0, 40, 40), color.RGBA{R: 255, G: 255, B: 255, A: 255})
	spec := Spec{Blur: true, Pixelate: true, Radius: 4, Passes: 1, Block: 40}

	got := spec.Apply(src, src.Bounds())
	want := Pixelate(Blur(src, src.Bounds(), 4, 1), src.Bounds(), 40)
	if !bytes.Equal(got.Pix, want.Pix) {
		t.Error("Apply did not blur before pixelating")
	}
}
