package rimage

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Helper function for convolving with a kernel. When used with i, dx := range makeRangeArray(n)
// i is the position within the kernel and dx gives the offset within the signal.
// if length is even, then the origin is to the right of middle i.e. 4 -> {-2, -1, 0, 1}.
func makeRangeArray(length int) []int {
	if length <= 0 {
		return make([]int, 0)
	}
	rangeArray := make([]int, length)
	var span int
	if length%2 == 0 {
		oddArr := makeRangeArray(length - 1)
		span = length / 2
		rangeArray = append([]int{-span}, oddArr...)
	} else {
		span = (length - 1) / 2
		for i := 0; i < span; i++ {
			rangeArray[length-1-i] = span - i
			rangeArray[i] = -span + i
		}
	}
	return rangeArray
}

// GaussianFunction1D takes in a sigma and returns a gaussian function useful for weighing averages or blurring.
func GaussianFunction1D(sigma float64) func(p float64) float64 {
	if sigma <= 0. {
		return func(p float64) float64 {
			return 1.
		}
	}
	return func(p float64) float64 {
		return math.Exp(-0.5*math.Pow(p, 2)/math.Pow(sigma, 2)) / (sigma * math.Sqrt(2.*math.Pi))
	}
}

// GaussianKernel1D returns normalized gaussian weights covering four sigma on
// each side of the origin.
func GaussianKernel1D(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(4*sigma + 0.5)
	gaus := GaussianFunction1D(sigma)
	offsets := makeRangeArray(2*radius + 1)
	kernel := make([]float64, len(offsets))
	for i, dx := range offsets {
		kernel[i] = gaus(float64(dx))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// SmoothSeries convolves values with a gaussian of the given sigma (in samples).
// The edges are reflected about the half-sample boundary, so a constant series
// stays constant. sigma <= 0 returns a copy.
func SmoothSeries(values []float64, sigma float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || sigma <= 0 {
		copy(out, values)
		return out
	}
	kernel := GaussianKernel1D(sigma)
	offsets := makeRangeArray(len(kernel))
	n := len(values)
	for i := range values {
		sum := 0.0
		for k, dx := range offsets {
			sum += kernel[k] * values[reflectIndex(i+dx, n)]
		}
		out[i] = sum
	}
	return out
}

// reflectIndex folds i into [0, n) like d c b a | a b c d | d c b a.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
