package calib

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/utils"
)

// ErrNoDetections is returned when not a single image of a set showed the grid.
var ErrNoDetections = errors.New("grid not detected in any calibration image")

// Correspondence pairs the board coordinates of every dot with where it was
// seen in one image.
type Correspondence struct {
	Object []r3.Vector
	Image  []r2.Point
	Source string
}

// CorrespondenceSet holds the detections of one camera. Images where the grid
// was not found are absent, so pair i is not necessarily file i.
type CorrespondenceSet struct {
	Width  int
	Height int
	Pairs  []Correspondence
}

// Validate checks that every pair is aligned and non-empty.
func (s *CorrespondenceSet) Validate() error {
	if s == nil || len(s.Pairs) == 0 {
		return ErrNoDetections
	}
	if s.Width <= 0 || s.Height <= 0 {
		return errors.Errorf("bad image size %dx%d", s.Width, s.Height)
	}
	for i, p := range s.Pairs {
		if len(p.Object) == 0 || len(p.Object) != len(p.Image) {
			return errors.Errorf("pair %d (%s) has %d object and %d image points", i, p.Source, len(p.Object), len(p.Image))
		}
	}
	return nil
}

// Sources lists the image file of every pair.
func (s *CorrespondenceSet) Sources() []string {
	out := make([]string, len(s.Pairs))
	for i, p := range s.Pairs {
		out[i] = p.Source
	}
	return out
}

// FileOrder selects how calibration images are ordered.
type FileOrder string

const (
	// OrderByName orders by the integer in the file name.
	OrderByName FileOrder = "name"
	// OrderByModTime orders by modification time.
	OrderByModTime FileOrder = "mtime"
)

// ImageSet is a directory of photographs of the board taken by one camera.
type ImageSet struct {
	Dir      string
	Pattern  string
	Order    FileOrder
	Grid     AsymmetricGrid
	Detector GridDetector
	// Annotate writes a copy of every successful detection to <Dir>/corners.
	Annotate bool
	Logger   logging.Logger
}

// Files returns the image paths in calibration order.
func (s *ImageSet) Files() ([]string, error) {
	pattern := s.Pattern
	if pattern == "" {
		pattern = "*.jpg"
	}
	if s.Order == OrderByModTime {
		return utils.ListFilesByModTime(s.Dir, pattern)
	}
	return utils.ListFilesByNumericName(s.Dir, pattern)
}

// Collect runs the detector over every image. Images that fail to decode, have a
// different size than the first image or do not show the grid are logged and
// skipped.
func (s *ImageSet) Collect(ctx context.Context) (*CorrespondenceSet, error) {
	if err := s.Grid.Validate(); err != nil {
		return nil, err
	}
	if s.Detector == nil {
		return nil, errors.New("image set has no grid detector")
	}
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	object := s.Grid.Points()
	set := &CorrespondenceSet{}
	for idx, fn := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := rimage.ReadImageFromFile(fn)
		if err != nil {
			s.logger().Warnw("skipping unreadable calibration image", "file", fn, "error", err)
			continue
		}
		b := img.Bounds()
		if set.Width == 0 {
			set.Width, set.Height = b.Dx(), b.Dy()
		} else if b.Dx() != set.Width || b.Dy() != set.Height {
			s.logger().Warnw("skipping calibration image of different size",
				"file", fn, "size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
				"expected", fmt.Sprintf("%dx%d", set.Width, set.Height))
			continue
		}

		pts, ok := s.Detector.Detect(img, s.Grid)
		if !ok || len(pts) != len(object) {
			s.logger().Warnw("grid not found", "file", fn)
			continue
		}
		s.logger().Debugw("grid found", "file", fn, "points", len(pts))
		set.Pairs = append(set.Pairs, Correspondence{
			Object: append([]r3.Vector(nil), object...),
			Image:  pts,
			Source: fn,
		})
		if s.Annotate {
			s.writeAnnotated(idx, img, pts)
		}
	}
	if len(set.Pairs) == 0 {
		return nil, errors.Wrapf(ErrNoDetections, "in %q", s.Dir)
	}
	s.logger().Infow("collected calibration grids", "dir", s.Dir, "found", len(set.Pairs), "images", len(files))
	return set, nil
}

func (s *ImageSet) writeAnnotated(idx int, img image.Image, pts []r2.Point) {
	out := filepath.Join(s.Dir, "corners", fmt.Sprintf("corners_found%d.png", idx))
	if err := rimage.WriteImageToFile(out, Annotate(img, pts)); err != nil {
		s.logger().Warnw("cannot write annotated detection", "file", out, "error", err)
	}
}

func (s *ImageSet) logger() logging.Logger {
	if s.Logger == nil {
		return logging.Global()
	}
	return s.Logger
}
