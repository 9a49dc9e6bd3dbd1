package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/born-ml/trainkit/internal/frame"
	"github.com/born-ml/trainkit/internal/npy"
	"github.com/pkg/errors"
)

// ErrChecksumMismatch is returned when a loaded array differs from the one
// that was saved.
var ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch, file may be corrupted")

// checksum computes the SHA-256 of an array's dtype, shape and data.
func checksum(c frame.Column) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s%v;", c.DType(), []int(c.Shape()))
	h.Write(c.Data())
	return hex.EncodeToString(h.Sum(nil))
}

func checksums(entries []npy.Entry) map[string]string {
	sums := make(map[string]string, len(entries))
	for _, e := range entries {
		sums[e.Name] = checksum(e.Column)
	}
	return sums
}

// verify compares every array named in sums against its stored checksum.
func verify(archive *npy.Archive, sums map[string]string) error {
	for name, want := range sums {
		arr, err := archive.Array(name)
		if err != nil {
			return err
		}
		if got := checksum(arr); got != want {
			return errors.Wrapf(ErrChecksumMismatch, "%q", name)
		}
	}
	return nil
}
