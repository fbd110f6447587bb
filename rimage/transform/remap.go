package transform

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/utils"
)

// RemapOptions guards the inverse depth used for every source pixel.
type RemapOptions struct {
	// MinDepth is the smallest scaled depth that is trusted.
	MinDepth float64
	// ClampDepth replaces depths below MinDepth (including missing, zero depth)
	// with MinDepth instead of marking the pixel invalid.
	ClampDepth bool
}

// RemapTable stores, for every source pixel, where it lands in the target image.
type RemapTable struct {
	Width        int
	Height       int
	TargetWidth  int
	TargetHeight int
	X            []float64
	Y            []float64
	Valid        []bool
}

// BuildRemap maps every pixel (u, v) of a source depth image, scaled by scale,
// through op into a targetWidth x targetHeight image. Pixels with a non-finite
// depth, a depth the guard rejects, a non-finite projection, or a projection
// outside the target are marked invalid.
func BuildRemap(
	ctx context.Context,
	op *TransferOperator,
	depth *rimage.FloatImage,
	scale float64,
	targetWidth, targetHeight int,
	opts RemapOptions,
) (*RemapTable, error) {
	if op == nil || depth == nil {
		return nil, errors.New("remap needs an operator and a depth image")
	}
	if opts.ClampDepth && !(opts.MinDepth > 0) {
		return nil, errors.Errorf("clamping depth requires a positive minimum, got %v", opts.MinDepth)
	}
	w, h := depth.Width(), depth.Height()
	table := &RemapTable{
		Width:        w,
		Height:       h,
		TargetWidth:  targetWidth,
		TargetHeight: targetHeight,
		X:            make([]float64, w*h),
		Y:            make([]float64, w*h),
		Valid:        make([]bool, w*h),
	}
	tw, th := float64(targetWidth), float64(targetHeight)
	err := utils.ParallelForEachRow(ctx, h, func(v int) {
		for u := 0; u < w; u++ {
			d := depth.At(u, v) * scale
			if !utils.IsFinite(d) {
				continue
			}
			if d <= 0 || d < opts.MinDepth {
				if !opts.ClampDepth {
					continue
				}
				d = opts.MinDepth
			}
			x, y, ok := op.Apply(float64(u), float64(v), 1/d)
			if !ok || x < 0 || y < 0 || x >= tw || y >= th {
				continue
			}
			k := v*w + u
			table.X[k], table.Y[k], table.Valid[k] = x, y, true
		}
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// At returns the target position of source pixel (u, v).
func (t *RemapTable) At(u, v int) (x, y float64, ok bool) {
	k := v*t.Width + u
	return t.X[k], t.Y[k], t.Valid[k]
}

// ValidCount returns the number of valid source pixels.
func (t *RemapTable) ValidCount() int {
	n := 0
	for _, ok := range t.Valid {
		if ok {
			n++
		}
	}
	return n
}

// ValidBounds returns the bounding rectangle, in source coordinates, of valid
// pixels; it is empty when none are valid.
func (t *RemapTable) ValidBounds() image.Rectangle {
	minX, minY, maxX, maxY := t.Width, t.Height, -1, -1
	for v := 0; v < t.Height; v++ {
		for u := 0; u < t.Width; u++ {
			if !t.Valid[v*t.Width+u] {
				continue
			}
			minX, maxX = min(minX, u), max(maxX, u)
			minY, maxY = min(minY, v), max(maxY, v)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Sample resamples a target-frame signal into the source frame. Invalid pixels are zero.
func (t *RemapTable) Sample(target *rimage.FloatImage) *rimage.FloatImage {
	out := rimage.NewFloatImage(t.Width, t.Height)
	maxX, maxY := float64(target.Width()-1), float64(target.Height()-1)
	for v := 0; v < t.Height; v++ {
		for u := 0; u < t.Width; u++ {
			x, y, ok := t.At(u, v)
			if !ok {
				continue
			}
			if val, ok := target.Bilinear(math.Min(x, maxX), math.Min(y, maxY)); ok {
				out.Set(u, v, val)
			}
		}
	}
	return out
}
