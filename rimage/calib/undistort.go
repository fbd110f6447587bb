package calib

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/rimage/transform"
)

// UndistortSet removes lens distortion from every file and writes the results to
// <dir>/undistorted/<idx>.jpg, idx being the position in files. It returns the
// written paths.
func UndistortSet(ctx context.Context, dir string, files []string, model *transform.CameraModel) ([]string, error) {
	outDir := filepath.Join(dir, "undistorted")
	written := make([]string, 0, len(files))
	for idx, fn := range files {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		img, err := rimage.ReadImageFromFile(fn)
		if err != nil {
			return written, err
		}
		out, err := model.UndistortImage(img)
		if err != nil {
			return written, errors.Wrapf(err, "cannot undistort %q", fn)
		}
		path := filepath.Join(outDir, fmt.Sprintf("%d.jpg", idx))
		if err := rimage.WriteImageToFile(path, out); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
