// Package npy reads and writes NumPy array files.
//
// Format structure (version 1.0):
//
//	[6 bytes: Magic "\x93NUMPY"]
//	[1 byte: major version] [1 byte: minor version]
//	[2 bytes: header length (uint16 LE), 4 bytes for versions 2 and 3]
//	[Header: Python dict literal, space padded, newline terminated]
//	[Array data: C order, little-endian]
//
// Files are written as version 1.0 with the preamble padded to a multiple of
// 64 bytes, which keeps the data section aligned for memory mapping.
// Fortran-ordered and big-endian arrays are rejected.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/trainkit/internal/frame"
	"github.com/pkg/errors"
)

// Magic is the leading signature of every .npy file.
const Magic = "\x93NUMPY"

const (
	preambleAlign = 64
	maxHeaderLen  = 1 << 20
)

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Header describes the array stored in a .npy file.
type Header struct {
	DType tensor.DataType
	Shape tensor.Shape
	// DataOffset is the byte offset of the array data.
	DataOffset int
}

// Size returns the byte length of the array data.
func (h Header) Size() int {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}
	return n * h.DType.Size()
}

// Descr returns the NumPy type string for a dtype.
func Descr(dtype tensor.DataType) (string, error) {
	switch dtype {
	case tensor.Float32:
		return "<f4", nil
	case tensor.Float64:
		return "<f8", nil
	case tensor.Int32:
		return "<i4", nil
	case tensor.Int64:
		return "<i8", nil
	case tensor.Uint8:
		return "|u1", nil
	case tensor.Bool:
		return "|b1", nil
	}
	return "", errors.Wrapf(ErrUnsupportedDType, "%s", dtype)
}

func parseDescr(descr string) (tensor.DataType, error) {
	switch descr {
	case "<f4", "=f4":
		return tensor.Float32, nil
	case "<f8", "=f8":
		return tensor.Float64, nil
	case "<i4", "=i4":
		return tensor.Int32, nil
	case "<i8", "=i8":
		return tensor.Int64, nil
	case "|u1", "<u1", "u1":
		return tensor.Uint8, nil
	case "|b1", "b1", "?":
		return tensor.Bool, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedDType, "descr %q", descr)
}

// EncodeHeader returns the preamble for an array of the given dtype and shape.
func EncodeHeader(dtype tensor.DataType, shape tensor.Shape) ([]byte, error) {
	descr, err := Descr(dtype)
	if err != nil {
		return nil, err
	}

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, tuple)

	// magic + version + uint16 length + dict + '\n', padded with spaces.
	fixed := len(Magic) + 2 + 2
	total := fixed + len(dict) + 1
	if pad := total % preambleAlign; pad != 0 {
		total += preambleAlign - pad
	}
	headerLen := total - fixed
	if headerLen > 0xffff {
		return nil, errors.Wrap(ErrHeaderTooLarge, "shape does not fit a version 1.0 header")
	}

	buf := make([]byte, 0, total)
	buf = append(buf, Magic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(headerLen)) //nolint:gosec // bounded above
	buf = append(buf, dict...)
	buf = append(buf, bytes.Repeat([]byte{' '}, headerLen-len(dict)-1)...)
	buf = append(buf, '\n')
	return buf, nil
}

// DecodeHeader parses the preamble at the start of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < len(Magic)+4 || string(data[:len(Magic)]) != Magic {
		return Header{}, ErrInvalidMagic
	}
	major := data[len(Magic)]
	off := len(Magic) + 2

	var headerLen int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
	case 2, 3:
		if len(data) < off+4 {
			return Header{}, errors.Wrap(ErrTruncated, "header length")
		}
		headerLen = int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	default:
		return Header{}, errors.Wrapf(ErrUnsupportedVersion, "%d", major)
	}
	if headerLen > maxHeaderLen {
		return Header{}, ErrHeaderTooLarge
	}
	if len(data) < off+headerLen {
		return Header{}, errors.Wrap(ErrTruncated, "header")
	}
	dict := string(data[off : off+headerLen])

	m := descrRe.FindStringSubmatch(dict)
	if m == nil {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "no descr in %q", dict)
	}
	dtype, err := parseDescr(m[1])
	if err != nil {
		return Header{}, err
	}
	if m = fortranRe.FindStringSubmatch(dict); m == nil {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "no fortran_order in %q", dict)
	} else if m[1] == "True" {
		return Header{}, ErrFortranOrder
	}
	if m = shapeRe.FindStringSubmatch(dict); m == nil {
		return Header{}, errors.Wrapf(ErrMalformedHeader, "no shape in %q", dict)
	}
	shape := tensor.Shape{}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || d < 0 {
			return Header{}, errors.Wrapf(ErrMalformedHeader, "shape %q", m[1])
		}
		shape = append(shape, d)
	}

	return Header{DType: dtype, Shape: shape, DataOffset: off + headerLen}, nil
}

// Write encodes c as a .npy stream.
func Write(w io.Writer, c frame.Column) error {
	header, err := EncodeHeader(c.DType(), c.Shape())
	if err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "write npy header")
	}
	size := Header{DType: c.DType(), Shape: c.Shape()}.Size()
	if _, err := w.Write(c.Data()[:size]); err != nil {
		return errors.Wrap(err, "write npy data")
	}
	return nil
}

// Read decodes a .npy stream into an owned array.
func Read(r io.Reader) (*frame.Array, error) {
	br := bufio.NewReader(r)
	pre, err := br.Peek(len(Magic) + 6)
	if err != nil && len(pre) < len(Magic)+4 {
		return nil, errors.Wrap(ErrTruncated, "preamble")
	}
	// Read enough to cover the dict, whose length the preamble gives.
	need := len(Magic) + 4
	switch {
	case len(pre) >= len(Magic)+4 && pre[len(Magic)] == 1:
		need += int(binary.LittleEndian.Uint16(pre[len(Magic)+2:]))
	case len(pre) >= len(Magic)+6:
		need += 2 + int(binary.LittleEndian.Uint32(pre[len(Magic)+2:]))
	}
	if need > maxHeaderLen {
		return nil, ErrHeaderTooLarge
	}
	preamble := make([]byte, need)
	if _, err := io.ReadFull(br, preamble); err != nil {
		return nil, errors.Wrap(ErrTruncated, "header")
	}
	h, err := DecodeHeader(preamble)
	if err != nil {
		return nil, err
	}

	data := make([]byte, h.Size())
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, errors.Wrapf(ErrTruncated, "data of %s%v", h.DType, []int(h.Shape))
	}
	return frame.NewArray(h.DType, h.Shape, data)
}

// Save writes c to path, creating parent directories.
func Save(path string, c frame.Column) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	//nolint:gosec // G304: path is chosen by the caller
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	w := bufio.NewWriter(f)
	if err := Write(w, c); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return errors.Wrapf(w.Flush(), "flush %s", path)
}

// Load reads the array stored at path into memory.
func Load(path string) (*frame.Array, error) {
	//nolint:gosec // G304: path is chosen by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	a, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return a, nil
}
