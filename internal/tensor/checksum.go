package tensor

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Fingerprint computes a SHA-256 digest over the shapes and exact bit
// patterns of the given tensors, in order.
//
// Two parameter sets share a fingerprint only if every element is
// bit-identical, which makes it suitable for detecting drift after a
// perturb/unperturb sequence.
func Fingerprint(ts []*Tensor) [32]byte {
	h := sha256.New()
	var buf [8]byte
	for _, t := range ts {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(t.shape))) //nolint:gosec // G115: rank is small.
		h.Write(buf[:])
		for _, d := range t.shape {
			binary.LittleEndian.PutUint64(buf[:], uint64(d)) //nolint:gosec // G115: dims are positive.
			h.Write(buf[:])
		}
		for _, v := range t.data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ValidateChecksum compares computed checksum against stored checksum.
// Returns ErrChecksumMismatch if they don't match.
func ValidateChecksum(computed, stored [32]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}
