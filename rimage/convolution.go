package rimage

import "math"

// Kernel is a convolution matrix indexed [row][col].
type Kernel [][]float64

// GetSobelX returns the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
}

// GetSobelY returns the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}
}

// Convolve applies kernel to img. Out of range neighbours replicate the nearest
// border sample.
func Convolve(img *FloatImage, kernel Kernel) *FloatImage {
	out := NewFloatImage(img.width, img.height)
	if len(kernel) == 0 {
		return out
	}
	yRange, xRange := makeRangeArray(len(kernel)), makeRangeArray(len(kernel[0]))
	for y := 0; y < img.height; y++ {
		for x := 0; x < img.width; x++ {
			sum := 0.0
			for j, dy := range yRange {
				sy := clampInt(y+dy, 0, img.height-1)
				for i, dx := range xRange {
					sx := clampInt(x+dx, 0, img.width-1)
					sum += kernel[j][i] * img.At(sx, sy)
				}
			}
			out.Set(x, y, sum)
		}
	}
	return out
}

// SobelMagnitude returns the per-pixel gradient magnitude of img.
func SobelMagnitude(img *FloatImage) *FloatImage {
	gx := Convolve(img, GetSobelX())
	gy := Convolve(img, GetSobelY())
	out := NewFloatImage(img.width, img.height)
	for i := range out.data {
		out.data[i] = math.Hypot(gx.data[i], gy.data[i])
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
