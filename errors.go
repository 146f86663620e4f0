package cdns

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// Common Errors

const (
	// ErrBadFileTypeID is returned by [NewReader] when the input does not
	// start with the "C-DNS" file type tag.
	ErrBadFileTypeID errors.Error = "cdns: not a c-dns file"

	// ErrUnsupportedVersion is returned by [NewReader] when the file declares
	// a major format version this package does not implement.  Minor versions
	// are additive and never cause this error.
	ErrUnsupportedVersion errors.Error = "cdns: unsupported major format version"

	// ErrMalformed signals a structural violation of the format: a missing
	// mandatory field, a wrong outer array arity, or an array that is present
	// but empty.  It is always fatal for the stream.
	ErrMalformed errors.Error = "cdns: malformed data"

	// ErrWriterClosed is returned by [Writer] methods called after Close.
	ErrWriterClosed errors.Error = "cdns: writer is closed"
)

// IndexError is returned when a record references a block-table index at or
// past the end of the table.  It is fatal for the block and, on the read
// path, for the whole stream.  Indices are never clamped.
type IndexError struct {
	// Table is the name of the referenced table, for example "name-rdata".
	Table string

	// Index is the out-of-range index.
	Index uint64

	// Length is the length of the table in the current block.
	Length int
}

// type check
var _ error = (*IndexError)(nil)

// Error implements the error interface for *IndexError.
func (err *IndexError) Error() (msg string) {
	return fmt.Sprintf(
		"cdns: index %d out of range for table %q of length %d",
		err.Index,
		err.Table,
		err.Length,
	)
}

// PolicyError is returned on the write path when a record cannot be
// represented under the active [StorageParameters].  The record is not added
// to the block; the caller decides whether to drop it, reroute it to a
// different parameter set, or abort.
type PolicyError struct {
	// Field is the name of the offending record field, for example
	// "query-opcode".
	Field string

	// Value is the value that is not allowed by the storage parameters.
	Value uint64
}

// type check
var _ error = (*PolicyError)(nil)

// Error implements the error interface for *PolicyError.
func (err *PolicyError) Error() (msg string) {
	return fmt.Sprintf(
		"cdns: policy violation: %s value %d not allowed by storage parameters",
		err.Field,
		err.Value,
	)
}
