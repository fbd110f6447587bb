// Package scene reads multi-view reconstructions laid out as one directory per
// view and turns each into a registration view.
package scene

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/thermalign/config"
	"go.viam.com/thermalign/logging"
	"go.viam.com/thermalign/registration"
	"go.viam.com/thermalign/rimage"
	"go.viam.com/thermalign/utils"
)

// ViewPattern matches view directories below a scene root.
const ViewPattern = "view_[0-9]*.mve"

// ScaleFactorPlaceholder is replaced by the reconstruction scale factor in layout names.
const ScaleFactorPlaceholder = "{sf}"

// DiscoverViews returns the view directories under root ordered by view number.
func DiscoverViews(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, ViewPattern))
	if err != nil {
		return nil, errors.Wrap(err, "bad view pattern")
	}
	views := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			views = append(views, m)
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		ni, nj := viewNumber(views[i]), viewNumber(views[j])
		if ni != nj {
			return ni < nj
		}
		return views[i] < views[j]
	})
	return views, nil
}

func viewNumber(dir string) int {
	stem := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(dir), "view_"), ".mve")
	n, err := strconv.Atoi(stem)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// Layout names the files of one view. TargetDepth is optional: without it the
// target image luminance is the signal compared against the source depth.
type Layout struct {
	SourceDepth string
	SourceImage string
	TargetImage string
	TargetDepth string
	Output      string
}

// DefaultLayout is the file naming of a view after dense reconstruction of both
// modalities.
func DefaultLayout() Layout {
	return LayoutFromConfig(config.Default().Scene)
}

// LayoutFromConfig takes the file names from a scene config, unresolved.
func LayoutFromConfig(c config.SceneConfig) Layout {
	return Layout{
		SourceDepth: c.SourceDepth,
		SourceImage: c.SourceImage,
		TargetImage: c.TargetImage,
		TargetDepth: c.TargetDepth,
		Output:      c.Output,
	}
}

// Resolve substitutes the scale factor into every name.
func (l Layout) Resolve(scaleFactor int) Layout {
	sf := strconv.Itoa(scaleFactor)
	r := func(s string) string { return strings.ReplaceAll(s, ScaleFactorPlaceholder, sf) }
	return Layout{
		SourceDepth: r(l.SourceDepth),
		SourceImage: r(l.SourceImage),
		TargetImage: r(l.TargetImage),
		TargetDepth: r(l.TargetDepth),
		Output:      r(l.Output),
	}
}

// LoadView reads one view directory. The source depth is resampled to the source
// image size and the target signal to the target image size. Malformed depth
// containers surface as *rimage.FormatError.
func LoadView(dir string, layout Layout) (*registration.View, error) {
	if layout.SourceDepth == "" || layout.SourceImage == "" || layout.TargetImage == "" {
		return nil, errors.New("layout needs source depth, source image and target image names")
	}
	sourceImage, err := rimage.ReadImageFromFile(filepath.Join(dir, layout.SourceImage))
	if err != nil {
		return nil, err
	}
	targetImage, err := rimage.ReadImageFromFile(filepath.Join(dir, layout.TargetImage))
	if err != nil {
		return nil, err
	}
	depth, err := rimage.ParseDepthMap(filepath.Join(dir, layout.SourceDepth))
	if err != nil {
		return nil, err
	}
	sb, tb := sourceImage.Bounds(), targetImage.Bounds()
	depth = depth.Resize(sb.Dx(), sb.Dy())

	var signal *rimage.FloatImage
	if layout.TargetDepth != "" {
		targetDepth, err := rimage.ParseDepthMap(filepath.Join(dir, layout.TargetDepth))
		if err != nil {
			return nil, err
		}
		signal = targetDepth.Channel(0).Resize(tb.Dx(), tb.Dy())
	} else {
		signal = rimage.FloatImageFromImage(targetImage)
	}

	view := &registration.View{
		Name:           filepath.Base(dir),
		SourceDepth:    depth.Channel(0),
		TargetSignal:   signal,
		SourceImage:    sourceImage,
		TargetImage:    targetImage,
		CompositeDepth: depth,
	}
	if layout.Output != "" {
		view.OutputPath = filepath.Join(dir, layout.Output)
	}
	return view, nil
}

// LoadViews discovers and loads every view under root. Views that fail to load
// are logged and skipped; their errors are combined into the returned error.
func LoadViews(ctx context.Context, root string, layout Layout, logger logging.Logger) ([]*registration.View, error) {
	dirs, err := DiscoverViews(root)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, errors.Errorf("no %s directories in %q", ViewPattern, root)
	}
	var (
		views []*registration.View
		errs  error
	)
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return views, multierr.Append(errs, err)
		}
		view, err := LoadView(dir, layout)
		if err != nil {
			logger.Warnw("skipping view", "dir", dir, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "view %q", filepath.Base(dir)))
			continue
		}
		views = append(views, view)
	}
	logger.Infow("views loaded", "root", root, "loaded", len(views), "found", len(dirs))
	return views, errs
}

// CopyOptions controls CopyTargetImages.
type CopyOptions struct {
	// Pattern selects the target images; "*.jpg" when empty.
	Pattern string
	// Name is the file name given to the copy inside the view.
	Name string
	// Marker, when set, restricts copies to views containing a file of that name.
	Marker string
}

// CopyTargetImages pairs the target camera shots, oldest first, with the views in
// order and copies shot i into view i. A view without the marker keeps its slot
// but receives nothing. It returns the written paths.
func CopyTargetImages(targetDir string, views []string, opts CopyOptions, logger logging.Logger) ([]string, error) {
	if opts.Name == "" {
		return nil, errors.New("copy needs a destination file name")
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*.jpg"
	}
	shots, err := utils.ListFilesByModTime(targetDir, pattern)
	if err != nil {
		return nil, err
	}
	if len(shots) != len(views) {
		logger.Warnw("target image count does not match view count", "images", len(shots), "views", len(views))
	}

	var written []string
	for idx, shot := range shots {
		if idx >= len(views) {
			break
		}
		view := views[idx]
		if opts.Marker != "" {
			if _, err := os.Stat(filepath.Join(view, opts.Marker)); err != nil {
				logger.Debugw("view has no marker, not copying", "view", view, "marker", opts.Marker)
				continue
			}
		}
		//nolint:gosec
		data, err := os.ReadFile(shot)
		if err != nil {
			return written, err
		}
		dst := filepath.Join(view, opts.Name)
		//nolint:gosec
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return written, errors.Wrapf(err, "cannot copy %q", shot)
		}
		logger.Infow("copied target image", "from", shot, "to", dst)
		written = append(written, dst)
	}
	return written, nil
}
