package rimage

import (
	"image"

	"github.com/golang/geo/r2"
)

// OtsuThreshold returns the gray level that maximizes the between-class variance
// of the histogram of img.
func OtsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[img.GrayAt(x, y).Y]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	sumAll := 0.0
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var (
		best       uint8
		bestVar    float64
		weightBack int
		sumBack    float64
	)
	for t := 0; t < 256; t++ {
		weightBack += hist[t]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += float64(t * hist[t])
		meanBack := sumBack / float64(weightBack)
		meanFore := (sumAll - sumBack) / float64(weightFore)
		between := float64(weightBack) * float64(weightFore) * (meanBack - meanFore) * (meanBack - meanFore)
		if between > bestVar {
			bestVar = between
			best = uint8(t)
		}
	}
	return best
}

// Blob is one 4-connected region of a binary mask.
type Blob struct {
	Centroid r2.Point
	Area     int
	Bounds   image.Rectangle
}

// FindBlobs labels the 4-connected regions of mask, a row-major width*height grid.
func FindBlobs(mask []bool, width, height int) []Blob {
	visited := make([]bool, len(mask))
	var blobs []Blob
	stack := make([]int, 0, 64)
	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		visited[start] = true
		stack = append(stack[:0], start)

		var sumX, sumY float64
		area := 0
		bounds := image.Rectangle{Min: image.Pt(width, height), Max: image.Pt(-1, -1)}
		for len(stack) > 0 {
			k := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := k%width, k/width
			sumX += float64(x)
			sumY += float64(y)
			area++
			bounds.Min.X = min(bounds.Min.X, x)
			bounds.Min.Y = min(bounds.Min.Y, y)
			bounds.Max.X = max(bounds.Max.X, x+1)
			bounds.Max.Y = max(bounds.Max.Y, y+1)

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= width || n[1] >= height {
					continue
				}
				nk := n[1]*width + n[0]
				if mask[nk] && !visited[nk] {
					visited[nk] = true
					stack = append(stack, nk)
				}
			}
		}
		blobs = append(blobs, Blob{
			Centroid: r2.Point{X: sumX / float64(area), Y: sumY / float64(area)},
			Area:     area,
			Bounds:   bounds,
		})
	}
	return blobs
}
