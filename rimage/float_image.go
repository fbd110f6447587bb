// Package rimage holds the raster types shared by calibration and registration:
// depth maps, floating point signal images, filters and drawing helpers.
package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/thermalign/utils"
)

// FloatImage is a single channel image of float64 samples stored row-major.
type FloatImage struct {
	width  int
	height int
	data   []float64
}

// NewFloatImage returns a zeroed image.
func NewFloatImage(width, height int) *FloatImage {
	return &FloatImage{width: width, height: height, data: make([]float64, width*height)}
}

// FloatImageFromImage converts img to luminance in [0, 255].
func FloatImageFromImage(img image.Image) *FloatImage {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	out := NewFloatImage(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			out.data[y*out.width+x] = float64(row[4*x])
		}
	}
	return out
}

// Width returns the horizontal size.
func (f *FloatImage) Width() int { return f.width }

// Height returns the vertical size.
func (f *FloatImage) Height() int { return f.height }

// Bounds returns the rectangle covered by the image.
func (f *FloatImage) Bounds() image.Rectangle { return image.Rect(0, 0, f.width, f.height) }

// In reports whether (x, y) lies inside the image.
func (f *FloatImage) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < f.width && y < f.height
}

// At returns the sample at (x, y).
func (f *FloatImage) At(x, y int) float64 { return f.data[y*f.width+x] }

// Set stores v at (x, y).
func (f *FloatImage) Set(x, y int, v float64) { f.data[y*f.width+x] = v }

// Data returns a copy of the samples in row-major order.
func (f *FloatImage) Data() []float64 {
	out := make([]float64, len(f.data))
	copy(out, f.data)
	return out
}

// Clone returns a deep copy.
func (f *FloatImage) Clone() *FloatImage {
	return &FloatImage{width: f.width, height: f.height, data: f.Data()}
}

// Bilinear samples the image at a sub-pixel position using pixel-center
// coordinates; it returns false when (x, y) is outside [0, w-1]x[0, h-1].
func (f *FloatImage) Bilinear(x, y float64) (float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(f.width-1) || y > float64(f.height-1) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= f.width {
		x1 = x0
	}
	if y1 >= f.height {
		y1 = y0
	}
	ax, ay := x-float64(x0), y-float64(y0)
	top := f.At(x0, y0)*(1-ax) + f.At(x1, y0)*ax
	bottom := f.At(x0, y1)*(1-ax) + f.At(x1, y1)*ax
	return top*(1-ay) + bottom*ay, true
}

// Resize returns a bilinear resample at the given size, mapping pixel centers
// the way common image libraries do: src = (dst + 0.5) * ratio - 0.5.
func (f *FloatImage) Resize(width, height int) *FloatImage {
	out := NewFloatImage(width, height)
	if f.width == 0 || f.height == 0 {
		return out
	}
	rx := float64(f.width) / float64(width)
	ry := float64(f.height) / float64(height)
	for y := 0; y < height; y++ {
		sy := utils.Clamp((float64(y)+0.5)*ry-0.5, 0, float64(f.height-1))
		for x := 0; x < width; x++ {
			sx := utils.Clamp((float64(x)+0.5)*rx-0.5, 0, float64(f.width-1))
			v, _ := f.Bilinear(sx, sy)
			out.Set(x, y, v)
		}
	}
	return out
}

// Crop returns a copy of the rectangle r intersected with the image bounds.
func (f *FloatImage) Crop(r image.Rectangle) *FloatImage {
	r = r.Intersect(f.Bounds())
	out := NewFloatImage(r.Dx(), r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(out.data[(y-r.Min.Y)*out.width:(y-r.Min.Y+1)*out.width], f.data[y*f.width+r.Min.X:y*f.width+r.Max.X])
	}
	return out
}

// NormalizeMinMax linearly maps the samples onto [lo, hi]. A constant image maps to lo.
func (f *FloatImage) NormalizeMinMax(lo, hi float64) *FloatImage {
	out := NewFloatImage(f.width, f.height)
	if len(f.data) == 0 {
		return out
	}
	mn, mx := floats.Min(f.data), floats.Max(f.data)
	span := mx - mn
	for i, v := range f.data {
		if span == 0 {
			out.data[i] = lo
			continue
		}
		out.data[i] = lo + (v-mn)*(hi-lo)/span
	}
	return out
}

// ZeroNonFinite returns a copy with NaN and infinite samples replaced by zero.
func (f *FloatImage) ZeroNonFinite() *FloatImage {
	out := f.Clone()
	for i, v := range out.data {
		if !utils.IsFinite(v) {
			out.data[i] = 0
		}
	}
	return out
}

// ToGray clamps the samples to [0, 255] and returns them as a gray image.
func (f *FloatImage) ToGray() *image.Gray {
	img := image.NewGray(f.Bounds())
	for y := 0; y < f.height; y++ {
		for x := 0; x < f.width; x++ {
			v := math.Round(utils.Clamp(f.At(x, y), 0, 255))
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}
