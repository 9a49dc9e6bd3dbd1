package npy

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/born-ml/trainkit/internal/frame"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

const npyExt = ".npy"

// Entry is a named array stored in an archive.
type Entry struct {
	Name   string
	Column frame.Column
}

// Archive is the decoded content of an .npz file.
type Archive struct {
	// Names lists the arrays in archive order.
	Names  []string
	Arrays map[string]*frame.Array
	// Files holds entries that are not arrays, keyed by their full name.
	Files map[string][]byte
}

// Array returns the named array.
func (a *Archive) Array(name string) (*frame.Array, error) {
	arr, ok := a.Arrays[name]
	if !ok {
		return nil, errors.Wrapf(ErrMissingEntry, "%q", name)
	}
	return arr, nil
}

func newZipWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	return zw
}

// WriteArchive writes arrays as <name>.npy entries followed by the extra
// files in name order.
func WriteArchive(w io.Writer, entries []Entry, files map[string][]byte) error {
	zw := newZipWriter(w)

	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name + npyExt, Method: zip.Deflate})
		if err != nil {
			return errors.Wrapf(err, "create entry %s", e.Name)
		}
		if err := Write(fw, e.Column); err != nil {
			return errors.Wrapf(err, "entry %s", e.Name)
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return errors.Wrapf(err, "create entry %s", name)
		}
		if _, err := fw.Write(files[name]); err != nil {
			return errors.Wrapf(err, "write entry %s", name)
		}
	}

	return errors.Wrap(zw.Close(), "finish archive")
}

// SaveArchive writes an archive to path atomically: the content goes to a
// temporary file in the same directory which then replaces path.
func SaveArchive(path string, entries []Entry, files map[string][]byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "create temporary file in %s", dir)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if err := WriteArchive(tmp, entries, files); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "save %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "rename to %s", path)
}

// ReadArchive decodes an .npz archive.
func ReadArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	a := &Archive{
		Arrays: make(map[string]*frame.Array),
		Files:  make(map[string][]byte),
	}
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "open entry %s", zf.Name)
		}

		if name, ok := strings.CutSuffix(zf.Name, npyExt); ok {
			arr, err := Read(rc)
			_ = rc.Close()
			if err != nil {
				return nil, errors.Wrapf(err, "entry %s", zf.Name)
			}
			a.Names = append(a.Names, name)
			a.Arrays[name] = arr
			continue
		}

		var buf bytes.Buffer
		_, err = io.Copy(&buf, rc) //nolint:gosec // archives are produced by WriteArchive
		_ = rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read entry %s", zf.Name)
		}
		a.Files[zf.Name] = buf.Bytes()
	}
	return a, nil
}

// LoadArchive reads the .npz file at path.
func LoadArchive(path string) (*Archive, error) {
	//nolint:gosec // G304: path is chosen by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	a, err := ReadArchive(f, stat.Size())
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return a, nil
}
