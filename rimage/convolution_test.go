package rimage

import (
	"testing"

	"go.viam.com/test"
)

func TestSobelMagnitude(t *testing.T) {
	flat := NewFloatImage(5, 5)
	for _, v := range SobelMagnitude(flat).Data() {
		test.That(t, v, test.ShouldEqual, 0.0)
	}

	// vertical step edge between columns 1 and 2
	step := NewFloatImage(5, 5)
	for y := 0; y < 5; y++ {
		for x := 2; x < 5; x++ {
			step.Set(x, y, 1)
		}
	}
	mag := SobelMagnitude(step)
	test.That(t, mag.At(0, 2), test.ShouldEqual, 0.0)
	test.That(t, mag.At(1, 2), test.ShouldEqual, 4.0)
	test.That(t, mag.At(2, 2), test.ShouldEqual, 4.0)
	test.That(t, mag.At(4, 2), test.ShouldEqual, 0.0)
}

func TestGaussianKernel1D(t *testing.T) {
	k := GaussianKernel1D(1)
	test.That(t, len(k), test.ShouldEqual, 9)
	sum := 0.0
	for _, v := range k {
		sum += v
	}
	test.That(t, sum, test.ShouldAlmostEqual, 1.0)
	test.That(t, k[4], test.ShouldBeGreaterThan, k[3])
	test.That(t, k[3], test.ShouldAlmostEqual, k[5])
	test.That(t, GaussianKernel1D(0), test.ShouldResemble, []float64{1})
}

func TestSmoothSeries(t *testing.T) {
	constant := []float64{2, 2, 2, 2, 2}
	for _, v := range SmoothSeries(constant, 1.5) {
		test.That(t, v, test.ShouldAlmostEqual, 2.0)
	}

	spike := []float64{0, 0, 0, 10, 0, 0, 0}
	smoothed := SmoothSeries(spike, 1)
	test.That(t, smoothed[3], test.ShouldBeLessThan, 10.0)
	test.That(t, smoothed[3], test.ShouldBeGreaterThan, smoothed[2])
	test.That(t, smoothed[2], test.ShouldAlmostEqual, smoothed[4])

	test.That(t, SmoothSeries(spike, 0), test.ShouldResemble, spike)
	test.That(t, reflectIndex(-1, 4), test.ShouldEqual, 0)
	test.That(t, reflectIndex(4, 4), test.ShouldEqual, 3)
	test.That(t, reflectIndex(-2, 4), test.ShouldEqual, 1)
}
