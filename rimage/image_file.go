package rimage

import (
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ReadImageFromFile decodes the image at path, honoring EXIF orientation.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode image %q", path)
	}
	return img, nil
}

// WriteImageToFile encodes img to path, choosing the format from the extension
// and creating parent directories as needed.
func WriteImageToFile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "cannot create directory for %q", path)
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "cannot encode image %q", path)
	}
	return nil
}
