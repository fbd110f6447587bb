package rimage

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFloatImageBilinear(t *testing.T) {
	f := NewFloatImage(2, 2)
	f.Set(0, 0, 0)
	f.Set(1, 0, 10)
	f.Set(0, 1, 20)
	f.Set(1, 1, 30)

	v, ok := f.Bilinear(0.5, 0.5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 15.0)

	v, ok = f.Bilinear(1, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 30.0)

	_, ok = f.Bilinear(1.01, 0)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = f.Bilinear(-0.01, 0)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestFloatImageCropNormalize(t *testing.T) {
	f := NewFloatImage(4, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			f.Set(x, y, float64(y*4+x))
		}
	}
	c := f.Crop(image.Rect(1, 1, 3, 3))
	test.That(t, c.Width(), test.ShouldEqual, 2)
	test.That(t, c.Height(), test.ShouldEqual, 2)
	test.That(t, c.Data(), test.ShouldResemble, []float64{5, 6, 9, 10})

	n := c.NormalizeMinMax(0, 255)
	test.That(t, n.Data(), test.ShouldResemble, []float64{0, 255.0 / 5, 255.0 * 4 / 5, 255})

	flat := NewFloatImage(2, 2).NormalizeMinMax(0, 255)
	test.That(t, flat.Data(), test.ShouldResemble, []float64{0, 0, 0, 0})

	// out of bounds rectangles are intersected
	test.That(t, f.Crop(image.Rect(3, 2, 10, 10)).Data(), test.ShouldResemble, []float64{11})
}

func TestFloatImageFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 10})
	img.SetGray(1, 0, color.Gray{Y: 200})
	f := FloatImageFromImage(img)
	test.That(t, f.At(0, 0), test.ShouldEqual, 10.0)
	test.That(t, f.At(1, 0), test.ShouldEqual, 200.0)
	test.That(t, f.ToGray().GrayAt(1, 0).Y, test.ShouldEqual, uint8(200))
}

func TestFloatImageResize(t *testing.T) {
	f := NewFloatImage(4, 4)
	for i := range f.data {
		f.data[i] = 3
	}
	r := f.Resize(2, 8)
	test.That(t, r.Width(), test.ShouldEqual, 2)
	test.That(t, r.Height(), test.ShouldEqual, 8)
	for _, v := range r.Data() {
		test.That(t, v, test.ShouldEqual, 3.0)
	}
}

func TestFloatImageZeroNonFinite(t *testing.T) {
	f := NewFloatImage(3, 1)
	f.Set(0, 0, math.Inf(1))
	f.Set(1, 0, math.NaN())
	f.Set(2, 0, 7)
	out := f.ZeroNonFinite()
	test.That(t, out.Data(), test.ShouldResemble, []float64{0, 0, 7})
	test.That(t, math.IsInf(f.At(0, 0), 1), test.ShouldBeTrue)
}
