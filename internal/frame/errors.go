package frame

import "github.com/pkg/errors"

// Frame errors.
var (
	ErrShapeMismatch   = errors.New("frame: shape mismatch")
	ErrDuplicateColumn = errors.New("frame: duplicate column")
	ErrInvalidFraction = errors.New("frame: train fraction must be in (0, 1)")
	ErrEmptySplit      = errors.New("frame: split leaves an empty partition")
	ErrLengthMismatch  = errors.New("frame: mask length mismatch")
	ErrIndexOutOfRange = errors.New("frame: row index out of range")
	ErrDTypeMismatch   = errors.New("frame: dtype mismatch")
)
