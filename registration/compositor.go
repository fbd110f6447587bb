package registration

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/transform"
)

// DefaultAlpha is the weight of the source image in a composite.
const DefaultAlpha = 0.3

// Compositor warps the target image into the source viewpoint and blends the two.
type Compositor struct {
	Operator *transform.TransferOperator
	// Alpha weighs the source image; the warped target gets 1 - Alpha.
	Alpha float64
	Remap transform.RemapOptions
}

// Warp resamples target into the source frame using depth, multiplied by scale.
// Source pixels that do not land inside target are opaque black.
func (c *Compositor) Warp(
	ctx context.Context,
	sourceBounds image.Rectangle,
	target image.Image,
	depth *rimage.DepthMap,
	scale float64,
) (*image.NRGBA, error) {
	if target == nil || depth == nil {
		return nil, errors.New("warp needs a target image and a depth map")
	}
	w, h := sourceBounds.Dx(), sourceBounds.Dy()
	d := depth
	if depth.Width() != w || depth.Height() != h {
		d = depth.Resize(w, h)
	}
	tb := target.Bounds()
	table, err := transform.BuildRemap(ctx, c.Operator, d.Channel(0), scale, tb.Dx(), tb.Dy(), c.Remap)
	if err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	maxX, maxY := float64(tb.Dx()-1), float64(tb.Dy()-1)
	black := color.NRGBA{A: 255}
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			px := black
			if x, y, ok := table.At(u, v); ok {
				if col, ok := transform.BilinearColor(target, math.Min(x, maxX), math.Min(y, maxY)); ok {
					px = col
				}
			}
			out.SetNRGBA(u, v, px)
		}
	}
	return out, nil
}

// Composite returns Alpha·source + (1 - Alpha)·warped target.
func (c *Compositor) Composite(
	ctx context.Context,
	source, target image.Image,
	depth *rimage.DepthMap,
	scale float64,
) (*image.NRGBA, error) {
	if source == nil {
		return nil, errors.New("composite needs a source image")
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return nil, errors.Errorf("alpha must be in [0, 1], got %v", c.Alpha)
	}
	warped, err := c.Warp(ctx, source.Bounds(), target, depth, scale)
	if err != nil {
		return nil, err
	}
	base := imaging.Clone(source)
	return imaging.Overlay(base, warped, image.Pt(0, 0), 1-c.Alpha), nil
}
