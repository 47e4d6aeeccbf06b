package serialization

import "errors"

// Sentinel errors for container validation.
var (
	// ErrBadMagic means the stream does not start with the nntc magic.
	ErrBadMagic = errors.New("not an nntc stream")
	// ErrVersionMismatch means the container was written by an
	// incompatible format version.
	ErrVersionMismatch = errors.New("unsupported nntc format version")
	// ErrChecksumMismatch means the CRC-32 trailer does not match the
	// stream contents.
	ErrChecksumMismatch = errors.New("nntc checksum mismatch")
	// ErrCorrupt means the container structure is inconsistent.
	ErrCorrupt = errors.New("corrupt nntc stream")
	// ErrTensorMismatch means a stored tensor does not line up with
	// the weight it should restore.
	ErrTensorMismatch = errors.New("tensor does not match stored shape")
)
