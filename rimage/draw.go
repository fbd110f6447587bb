package rimage

import (
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p r2.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawString(text, p.X, p.Y)
}

// DrawCircle strokes a circle of the given radius around center.
func DrawCircle(dc *gg.Context, center r2.Point, radius float64, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawCircle(center.X, center.Y, radius)
	dc.Stroke()
}

// DrawPolyline connects consecutive points with line segments.
func DrawPolyline(dc *gg.Context, pts []r2.Point, c color.Color, width float64) {
	if len(pts) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
}
