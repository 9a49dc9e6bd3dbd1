package npy

import (
	"os"

	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Mapped is a read-only .npy file mapped into memory.
//
// It satisfies frame.Column, so large arrays can back a frame without being
// read up front; the OS page cache serves rows on demand. The slice returned
// by Data is valid only until Close.
type Mapped struct {
	file   *os.File
	region []byte
	header Header
	closed bool
}

// Open maps the .npy file at path.
//
// Important: Always call Close() when done to unmap the file (use defer).
func Open(path string) (*Mapped, error) {
	//nolint:gosec // G304: path is chosen by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	region, err := mmapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "mmap %s", path)
	}

	m := &Mapped{file: file, region: region}
	if m.header, err = DecodeHeader(region); err != nil {
		_ = m.Close()
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if end := m.header.DataOffset + m.header.Size(); end > len(region) {
		_ = m.Close()
		return nil, errors.Wrapf(ErrTruncated, "%s: data ends at %d, file has %d bytes", path, end, len(region))
	}
	return m, nil
}

// Header returns the parsed file header.
func (m *Mapped) Header() Header { return m.header }

// Shape returns the array dimensions.
func (m *Mapped) Shape() tensor.Shape { return m.header.Shape }

// DType returns the element type.
func (m *Mapped) DType() tensor.DataType { return m.header.DType }

// Data returns a zero-copy view of the array bytes, or nil once closed.
// WARNING: The data is read-only - writing to it will cause undefined behavior.
func (m *Mapped) Data() []byte {
	if m.closed {
		return nil
	}
	off := m.header.DataOffset
	return m.region[off : off+m.header.Size()]
}

// Close unmaps and closes the file.
func (m *Mapped) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.region != nil {
		err = munmapFile(m.region)
		m.region = nil
	}
	if closeErr := m.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
