package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func touch(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	test.That(t, os.WriteFile(p, []byte(name), 0o600), test.ShouldBeNil)
	test.That(t, os.Chtimes(p, mod, mod), test.ShouldBeNil)
	return p
}

func TestListFilesByNumericName(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for _, name := range []string{"10.jpg", "2.jpg", "1.jpg", "extra.jpg", "notes.txt"} {
		touch(t, dir, name, now)
	}
	test.That(t, os.Mkdir(filepath.Join(dir, "3.jpg"), 0o755), test.ShouldBeNil)

	files, err := ListFilesByNumericName(dir, "*.jpg")
	test.That(t, err, test.ShouldBeNil)
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	test.That(t, names, test.ShouldResemble, []string{"1.jpg", "2.jpg", "10.jpg", "extra.jpg"})
}

func TestListFilesByModTime(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	touch(t, dir, "a.jpg", base.Add(3*time.Minute))
	touch(t, dir, "b.jpg", base.Add(1*time.Minute))
	touch(t, dir, "c.jpg", base.Add(2*time.Minute))

	files, err := ListFilesByModTime(dir, "*.jpg")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(files), test.ShouldEqual, 3)
	test.That(t, filepath.Base(files[0]), test.ShouldEqual, "b.jpg")
	test.That(t, filepath.Base(files[1]), test.ShouldEqual, "c.jpg")
	test.That(t, filepath.Base(files[2]), test.ShouldEqual, "a.jpg")
}

func TestNumericStem(t *testing.T) {
	n, ok := NumericStem("/x/y/42.png")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n, test.ShouldEqual, 42)
	_, ok = NumericStem("thermal.jpg")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "calibration.txt")
	test.That(t, WriteFileAtomic(p, []byte("first"), 0o644), test.ShouldBeNil)
	test.That(t, WriteFileAtomic(p, []byte("second"), 0o644), test.ShouldBeNil)

	data, err := os.ReadFile(p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "second")

	entries, err := os.ReadDir(filepath.Dir(p))
	test.That(t, err, test.ShouldBeNil)
	for _, e := range entries {
		test.That(t, filepath.Ext(e.Name()), test.ShouldNotEqual, ".tmp")
	}
}

func TestSafeJoinDir(t *testing.T) {
	_, err := SafeJoinDir("/a/b", "../c")
	test.That(t, err, test.ShouldNotBeNil)
	p, err := SafeJoinDir("/a/b", "view_0000.mve")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, "/a/b/view_0000.mve")
}
