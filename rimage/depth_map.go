package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// DepthTypeFloat32 is the only element type code the depth container reader accepts.
const DepthTypeFloat32 = 9

// depthSignature prefixes every depth container. Readers skip it without checking.
var depthSignature = []byte("\x89MVE_IMAGE\n")

const maxDepthDimension = 100000

// ErrUnsupportedDepthType is wrapped by a FormatError when the container declares
// an element type other than 32-bit float.
var ErrUnsupportedDepthType = errors.New("unsupported depth element type")

// FormatError reports a malformed or unsupported depth container.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("bad depth container: %v", e.Err)
	}
	return fmt.Sprintf("bad depth container %q: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// DepthMap is a dense grid of depth samples with one or more channels per pixel,
// stored row-major with channels interleaved.
type DepthMap struct {
	width    int
	height   int
	channels int

	data []float32
}

// NewEmptyDepthMap returns a zeroed depth map.
func NewEmptyDepthMap(width, height, channels int) *DepthMap {
	return &DepthMap{
		width:    width,
		height:   height,
		channels: channels,
		data:     make([]float32, width*height*channels),
	}
}

// NewDepthMapFromData wraps row-major interleaved samples. The slice is not copied.
func NewDepthMapFromData(width, height, channels int, data []float32) (*DepthMap, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, errors.Errorf("bad depth map dimensions %dx%dx%d", width, height, channels)
	}
	if len(data) != width*height*channels {
		return nil, errors.Errorf("depth map %dx%dx%d needs %d samples, got %d",
			width, height, channels, width*height*channels, len(data))
	}
	return &DepthMap{width: width, height: height, channels: channels, data: data}, nil
}

// DepthMapFromFloatImage copies img into a single channel depth map.
func DepthMapFromFloatImage(img *FloatImage) *DepthMap {
	dm := NewEmptyDepthMap(img.Width(), img.Height(), 1)
	for i, v := range img.data {
		dm.data[i] = float32(v)
	}
	return dm
}

// Width returns the horizontal size.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Channels returns the number of samples per pixel.
func (dm *DepthMap) Channels() int {
	return dm.channels
}

// Bounds returns the rectangle covered by the map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// In reports whether (x, y) lies inside the map.
func (dm *DepthMap) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

func (dm *DepthMap) kxy(x, y, c int) int {
	return (y*dm.width+x)*dm.channels + c
}

// At returns the first channel at (x, y).
func (dm *DepthMap) At(x, y int) float64 {
	return float64(dm.data[dm.kxy(x, y, 0)])
}

// AtChannel returns channel c at (x, y).
func (dm *DepthMap) AtChannel(x, y, c int) float64 {
	return float64(dm.data[dm.kxy(x, y, c)])
}

// Set stores v in channel c at (x, y).
func (dm *DepthMap) Set(x, y, c int, v float64) {
	dm.data[dm.kxy(x, y, c)] = float32(v)
}

// Channel extracts one channel as a float image.
func (dm *DepthMap) Channel(c int) *FloatImage {
	out := NewFloatImage(dm.width, dm.height)
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			out.Set(x, y, dm.AtChannel(x, y, c))
		}
	}
	return out
}

// Scale returns a copy with every sample multiplied by s.
func (dm *DepthMap) Scale(s float64) *DepthMap {
	out := NewEmptyDepthMap(dm.width, dm.height, dm.channels)
	for i, v := range dm.data {
		out.data[i] = float32(float64(v) * s)
	}
	return out
}

// Resize returns a bilinearly resampled copy at the given size.
func (dm *DepthMap) Resize(width, height int) *DepthMap {
	if width == dm.width && height == dm.height {
		return dm.Scale(1)
	}
	out := NewEmptyDepthMap(width, height, dm.channels)
	for c := 0; c < dm.channels; c++ {
		resized := dm.Channel(c).Resize(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				out.Set(x, y, c, resized.At(x, y))
			}
		}
	}
	return out
}

// MinMax returns the smallest and largest non-zero sample of the first channel.
func (dm *DepthMap) MinMax() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := dm.At(x, y)
			if z == 0 || math.IsNaN(z) {
				continue
			}
			lo = math.Min(lo, z)
			hi = math.Max(hi, z)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// ToPrettyPicture colors the first channel by depth, clamped to [hardMin, hardMax].
// Pixels without depth stay black.
func (dm *DepthMap) ToPrettyPicture(hardMin, hardMax float64) image.Image {
	lo, hi := dm.MinMax()
	if lo < hardMin {
		lo = hardMin
	}
	if hi > hardMax {
		hi = hardMax
	}

	img := image.NewNRGBA(dm.Bounds())
	span := hi - lo
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			z := dm.At(x, y)
			if z == 0 || math.IsNaN(z) {
				continue
			}
			z = math.Max(lo, math.Min(hi, z))
			ratio := 0.0
			if span > 0 {
				ratio = (z - lo) / span
			}
			hue := 30 + (200.0 * ratio)
			img.Set(x, y, colorful.Hsv(hue, 1.0, 1.0).Clamped())
		}
	}
	return img
}

// ParseDepthMap reads a depth container from disk. A ".gz" extension is read as
// a gzip stream.
func ParseDepthMap(fn string) (*DepthMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var r io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, &FormatError{Path: fn, Err: err}
		}
		defer utils.UncheckedErrorFunc(gz.Close)
		r = gz
	}

	dm, err := ReadDepthMap(bufio.NewReader(r))
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = fn
		}
		return nil, err
	}
	return dm, nil
}

// ReadDepthMap decodes a depth container: an 11 byte signature, four little
// endian int32 values (width, height, channels, type) and, for type 9, width*height*channels
// little endian float32 samples in row-major order.
func ReadDepthMap(r io.Reader) (*DepthMap, error) {
	if _, err := io.CopyN(io.Discard, r, int64(len(depthSignature))); err != nil {
		return nil, &FormatError{Err: errors.Wrap(err, "short signature")}
	}

	var header [4]int32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, &FormatError{Err: errors.Wrap(err, "short header")}
	}
	width, height, channels, typeCode := int(header[0]), int(header[1]), int(header[2]), header[3]

	if typeCode != DepthTypeFloat32 {
		return nil, &FormatError{Err: errors.Wrapf(ErrUnsupportedDepthType, "type code %d", typeCode)}
	}
	if width <= 0 || width >= maxDepthDimension || height <= 0 || height >= maxDepthDimension ||
		channels <= 0 || channels > 16 {
		return nil, &FormatError{Err: errors.Errorf("bad dimensions %dx%dx%d", width, height, channels)}
	}

	data := make([]float32, width*height*channels)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, &FormatError{Err: errors.Wrapf(err, "truncated payload for %dx%dx%d", width, height, channels)}
	}
	return &DepthMap{width: width, height: height, channels: channels, data: data}, nil
}

// WriteDepthMap encodes dm in the container layout ReadDepthMap accepts.
func WriteDepthMap(out io.Writer, dm *DepthMap) error {
	if _, err := out.Write(depthSignature); err != nil {
		return err
	}
	header := [4]int32{int32(dm.width), int32(dm.height), int32(dm.channels), DepthTypeFloat32}
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, dm.data)
}

// WriteToFile writes the map to fn, gzipped when fn ends in ".gz".
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}

	bw := bufio.NewWriter(out)
	if err := WriteDepthMap(bw, dm); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	return f.Sync()
}
