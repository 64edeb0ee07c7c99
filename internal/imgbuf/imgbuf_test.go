package imgbuf

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/outfit360/internal/domain"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestSaveLoadPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame_0001.png")
	src := solid(12, 7, color.RGBA{R: 10, G: 200, B: 30, A: 255})
	src.SetRGBA(3, 4, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	if err := Save(path, src, PNG, 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, format, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if format != PNG {
		t.Errorf("format = %q, want png", format)
	}
	if !bytes.Equal(got.Pix, src.Pix) {
		t.Error("PNG round trip changed pixel data")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestSaveFailedWriteLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame_0003.jpg")

	writeFile = func(name string, data []byte, perm os.FileMode) error {
		if err := os.WriteFile(name, data[:len(data)/2], perm); err != nil {
			return err
		}
		return errors.New("no space left on device")
	}
	t.Cleanup(func() { writeFile = os.WriteFile })

	err := Save(path, solid(8, 8, color.RGBA{R: 90, A: 255}), JPEG, 90)
	if !errors.Is(err, domain.ErrIO) {
		t.Fatalf("Save error = %v, want IO kind", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir holds %d entries after a failed save, want 0", len(entries))
	}
}

func TestLoadCorruptIsIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_0002.jpg")
	if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := Load(path)
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("Load(corrupt) error = %v, want IO kind", err)
	}

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	if !errors.Is(err, domain.ErrIO) {
		t.Errorf("Load(missing) error = %v, want IO kind", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"a/frame_0001.jpg", JPEG, true},
		{"FRAME.JPEG", JPEG, true},
		{"x.png", PNG, true},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatFromPath(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FormatFromPath(%q) = %q, %v", tt.path, got, ok)
		}
	}
}

func TestCropCloneResizePack(t *testing.T) {
	img := solid(10, 10, color.RGBA{R: 5, G: 6, B: 7, A: 255})
	img.SetRGBA(4, 4, color.RGBA{R: 9, G: 9, B: 9, A: 255})

	crop := Crop(img, image.Rect(4, 4, 20, 6))
	if crop.Bounds() != image.Rect(0, 0, 6, 2) {
		t.Fatalf("Crop bounds = %v", crop.Bounds())
	}
	if c := crop.RGBAAt(0, 0); c.R != 9 {
		t.Errorf("Crop origin pixel = %v", c)
	}

	clone := Clone(img)
	clone.Pix[0] = 255
	if img.Pix[0] == 255 {
		t.Error("Clone shares pixel storage")
	}

	small := Resize(img, 5, 3)
	if small.Bounds() != image.Rect(0, 0, 5, 3) {
		t.Errorf("Resize bounds = %v", small.Bounds())
	}

	rgb := PackRGB(crop)
	if len(rgb) != 6*2*3 {
		t.Fatalf("PackRGB length = %d", len(rgb))
	}
	if rgb[0] != 9 || rgb[3] != 5 {
		t.Errorf("PackRGB = %v", rgb[:6])
	}
}

func TestToRGBAOffsetImage(t *testing.T) {
	src := solid(8, 8, color.RGBA{R: 1, A: 255})
	sub := src.SubImage(image.Rect(2, 2, 6, 6))
	got := ToRGBA(sub)
	if got.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Errorf("ToRGBA bounds = %v, want origin-anchored 4x4", got.Bounds())
	}
}
