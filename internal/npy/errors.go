package npy

import "github.com/pkg/errors"

// Common errors.
var (
	ErrInvalidMagic       = errors.New("npy: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("npy: unsupported format version")
	ErrUnsupportedDType   = errors.New("npy: unsupported dtype")
	ErrMalformedHeader    = errors.New("npy: malformed header")
	ErrHeaderTooLarge     = errors.New("npy: header exceeds maximum size")
	ErrFortranOrder       = errors.New("npy: fortran-ordered arrays are not supported")
	ErrTruncated          = errors.New("npy: truncated file")
	ErrClosed             = errors.New("npy: mapping is closed")
	ErrMissingEntry       = errors.New("npz: missing entry")
)
