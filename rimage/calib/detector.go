package calib

import (
	"image"
	"image/color"
	"sort"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"

	"go.viam.com/thermalign/rimage"
)

// GridDetector finds the dots of grid in img and returns their image positions in
// grid index order (c + r*Cols). ok is false when the grid was not found.
type GridDetector interface {
	Detect(img image.Image, grid AsymmetricGrid) (pts []r2.Point, ok bool)
}

// BlobGridDetector finds a roughly upright board by thresholding the image and
// labeling connected regions. Thermal boards show bright dots on a dark
// background and need DarkBlobs set to false.
type BlobGridDetector struct {
	DarkBlobs           bool
	MinArea             int
	MaxArea             int
	MinDistBetweenBlobs float64
}

// NewBlobGridDetector returns a detector with the blob limits used for both
// cameras of the rig.
func NewBlobGridDetector(darkBlobs bool) *BlobGridDetector {
	return &BlobGridDetector{
		DarkBlobs:           darkBlobs,
		MinArea:             10,
		MaxArea:             100000,
		MinDistBetweenBlobs: 5,
	}
}

// Detect implements GridDetector.
func (d *BlobGridDetector) Detect(img image.Image, grid AsymmetricGrid) ([]r2.Point, bool) {
	if img == nil || grid.Len() == 0 {
		return nil, false
	}
	gray := toGray(img, !d.DarkBlobs)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	thresh := rimage.OtsuThreshold(gray)

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask[y*w+x] = gray.Pix[y*gray.Stride+x] <= thresh
		}
	}

	var blobs []rimage.Blob
	frame := image.Rect(0, 0, w, h).Inset(1)
	for _, b := range rimage.FindBlobs(mask, w, h) {
		if b.Area < d.MinArea || (d.MaxArea > 0 && b.Area > d.MaxArea) {
			continue
		}
		// regions touching the border are background, not dots
		if !b.Bounds.In(frame) {
			continue
		}
		blobs = append(blobs, b)
	}
	blobs = d.dropCrowded(blobs)
	if len(blobs) != grid.Len() {
		return nil, false
	}
	return orderGrid(blobs, grid), true
}

// dropCrowded keeps the larger of any two blobs closer than MinDistBetweenBlobs.
func (d *BlobGridDetector) dropCrowded(blobs []rimage.Blob) []rimage.Blob {
	if d.MinDistBetweenBlobs <= 0 {
		return blobs
	}
	sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].Area > blobs[j].Area })
	kept := blobs[:0]
	for _, b := range blobs {
		crowded := false
		for _, k := range kept {
			if b.Centroid.Sub(k.Centroid).Norm() < d.MinDistBetweenBlobs {
				crowded = true
				break
			}
		}
		if !crowded {
			kept = append(kept, b)
		}
	}
	return kept
}

// orderGrid sorts blobs top to bottom, cuts them into rows of grid.Cols and orders
// each row left to right.
func orderGrid(blobs []rimage.Blob, grid AsymmetricGrid) []r2.Point {
	sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].Centroid.Y < blobs[j].Centroid.Y })
	pts := make([]r2.Point, 0, len(blobs))
	for r := 0; r < grid.Rows; r++ {
		row := blobs[r*grid.Cols : (r+1)*grid.Cols]
		sort.SliceStable(row, func(i, j int) bool { return row[i].Centroid.X < row[j].Centroid.X })
		for _, b := range row {
			pts = append(pts, b.Centroid)
		}
	}
	return pts
}

func toGray(img image.Image, invert bool) *image.Gray {
	src := imaging.Grayscale(img)
	if invert {
		src = imaging.Invert(src)
	}
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = src.Pix[y*src.Stride+4*x]
		}
	}
	return gray
}

// Annotate draws the detected dots on a copy of img, numbered in grid order and
// joined in the order they were found.
func Annotate(img image.Image, pts []r2.Point) image.Image {
	dc := gg.NewContextForImage(img)
	radius := 2 + float64(img.Bounds().Dx())/200
	centers := make([]r2.Point, len(pts))
	for i, p := range pts {
		centers[i] = r2.Point{X: p.X + 0.5, Y: p.Y + 0.5}
	}
	rimage.DrawPolyline(dc, centers, color.NRGBA{R: 255, G: 200, A: 255}, 1)
	for i, c := range centers {
		hue := uint8(255 * i / max(1, len(centers)-1))
		rimage.DrawCircle(dc, c, radius, color.NRGBA{R: 255 - hue, G: 64, B: hue, A: 255}, 2)
		rimage.DrawString(dc, strconv.Itoa(i), c.Add(r2.Point{X: radius, Y: -radius}), color.NRGBA{G: 255, A: 255}, 2*radius+4)
	}
	return dc.Image()
}
