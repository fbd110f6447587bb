package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestImageFileRoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(40 * x), G: uint8(60 * y), B: 7, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "nested", "out.png")
	test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)

	back, err := ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Bounds().Dx(), test.ShouldEqual, 6)
	test.That(t, back.Bounds().Dy(), test.ShouldEqual, 4)
	r, g, b, _ := back.At(5, 3).RGBA()
	test.That(t, r>>8, test.ShouldEqual, 200)
	test.That(t, g>>8, test.ShouldEqual, 180)
	test.That(t, b>>8, test.ShouldEqual, 7)
}

func TestImageFileErrors(t *testing.T) {
	_, err := ReadImageFromFile(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot decode image")

	err = WriteImageToFile(filepath.Join(t.TempDir(), "out.unknown"), image.NewGray(image.Rect(0, 0, 2, 2)))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot encode image")
}
