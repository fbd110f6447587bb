package transform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	rutils "go.viam.com/thermalign/utils"
)

// WriteTransferOperator writes W as four lines of four space separated values.
func WriteTransferOperator(w io.Writer, op *TransferOperator) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if j > 0 {
				if err := bw.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(bw, "%.18e", op.At(i, j)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadTransferOperator parses a whitespace delimited 4x4 matrix. Lines starting
// with '#' are comments.
func ReadTransferOperator(r io.Reader) (*TransferOperator, error) {
	scanner := bufio.NewScanner(r)
	values := make([]float64, 0, 16)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Errorf("expected 4 values per row, got %d in %q", len(fields), line)
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad matrix entry %q", f)
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(values) != 16 {
		return nil, errors.Errorf("expected 16 matrix entries, got %d", len(values))
	}
	return NewTransferOperator(mat.NewDense(4, 4, values))
}

// LoadTransferOperator reads an operator written by Save.
func LoadTransferOperator(path string) (*TransferOperator, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	op, err := ReadTransferOperator(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse transfer operator %q", path)
	}
	return op, nil
}

// Save writes the operator to path atomically.
func (op *TransferOperator) Save(path string) error {
	var buf bytes.Buffer
	if err := WriteTransferOperator(&buf, op); err != nil {
		return err
	}
	return rutils.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// TransferCache persists the operator between runs so calibration only has to
// happen once per camera pair.
type TransferCache struct {
	Path string
}

// Load returns the cached operator. A missing file is a normal miss: ok is false
// and err is nil.
func (c TransferCache) Load() (op *TransferOperator, ok bool, err error) {
	if c.Path == "" {
		return nil, false, nil
	}
	op, err = LoadTransferOperator(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return op, true, nil
}

// Store writes op to the cache path. It is a no-op without a path.
func (c TransferCache) Store(op *TransferOperator) error {
	if c.Path == "" {
		return nil
	}
	return op.Save(c.Path)
}

// GetOrCompute loads the cached operator or, on a miss, runs compute once and
// stores its result. hit reports whether the cache answered.
func (c TransferCache) GetOrCompute(
	ctx context.Context,
	compute func(ctx context.Context) (*TransferOperator, error),
) (op *TransferOperator, hit bool, err error) {
	op, ok, err := c.Load()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return op, true, nil
	}
	op, err = compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := c.Store(op); err != nil {
		return nil, false, errors.Wrap(err, "cannot store transfer operator")
	}
	return op, false, nil
}
