package utils

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// SafeJoinDir performs a filepath.Join of 'parent' and 'subdir' but returns an error
// if the resulting path points outside of 'parent'.
func SafeJoinDir(parent, subdir string) (string, error) {
	res := filepath.Join(parent, subdir)
	if !strings.HasPrefix(filepath.Clean(res), filepath.Clean(parent)+string(os.PathSeparator)) {
		return res, errors.Errorf("unsafe path join: '%s' with '%s'", parent, subdir)
	}
	return res, nil
}

// NumericStem returns the integer encoded in the file name without its extension,
// e.g. "12.jpg" gives 12.
func NumericStem(path string) (int, bool) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	n, err := strconv.Atoi(stem)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListFilesByNumericName globs dir with pattern and orders the matches by the
// integer in their file name, so "10.jpg" comes after "9.jpg". Files without a
// numeric stem are placed after all numeric ones, in lexical order.
func ListFilesByNumericName(dir, pattern string) ([]string, error) {
	matches, err := globFiles(dir, pattern)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		ni, iok := NumericStem(matches[i])
		nj, jok := NumericStem(matches[j])
		switch {
		case iok && jok:
			if ni != nj {
				return ni < nj
			}
			return matches[i] < matches[j]
		case iok != jok:
			return iok
		default:
			return matches[i] < matches[j]
		}
	})
	return matches, nil
}

// ListFilesByModTime globs dir with pattern and orders the matches by
// modification time, oldest first. Ties are broken by name.
func ListFilesByModTime(dir, pattern string) ([]string, error) {
	matches, err := globFiles(dir, pattern)
	if err != nil {
		return nil, err
	}
	type timed struct {
		path  string
		nanos int64
	}
	entries := make([]timed, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot stat %q", m)
		}
		entries = append(entries, timed{m, info.ModTime().UnixNano()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].nanos != entries[j].nanos {
			return entries[i].nanos < entries[j].nanos
		}
		return entries[i].path < entries[j].path
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out, nil
}

func globFiles(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "bad pattern %q", pattern)
	}
	files := matches[:0]
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}
	return files, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place while holding an exclusive lock on "<path>.lock", so concurrent
// writers from other processes never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create directory %q", dir)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "cannot lock %q", path)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil && err == nil {
			err = errors.Wrapf(unlockErr, "cannot unlock %q", path)
		}
	}()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "cannot create temp file")
	}
	tmpName := tmp.Name()
	defer RemoveFileNoError(tmpName)

	if _, err := tmp.Write(data); err != nil {
		utils.UncheckedError(tmp.Close())
		return errors.Wrapf(err, "cannot write %q", tmpName)
	}
	if err := tmp.Chmod(perm); err != nil {
		utils.UncheckedError(tmp.Close())
		return errors.Wrapf(err, "cannot chmod %q", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "cannot close %q", tmpName)
	}
	return errors.Wrapf(os.Rename(tmpName, path), "cannot rename %q into place", tmpName)
}
