// Package cdns implements reading and writing of the C-DNS compacted DNS
// packet capture format, as defined by RFC 8618.
//
// The package exposes an application-level view of the data: records returned
// by [Reader] have all block-table references resolved, and records given to
// [Writer] are deduplicated into per-block tables automatically.  Optional
// values are modeled as pointers; a nil pointer means the value was not
// present in the capture, which must never be conflated with a zero value.
// The [StorageHints] of the active [BlockParameters] describe which absences
// are structural, that is, never collected by the producer at all.
//
// Primitive CBOR encoding and decoding is delegated to
// [github.com/fxamacker/cbor/v2]; this package only adds the structural layer
// on top: block segmentation, deduplication tables, bitfield flags, and
// default-value elision.
package cdns

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FileTypeID is the string identifying a C-DNS file.  It is the first element
// of the outer file array.
const FileTypeID = "C-DNS"

// Format versions implemented by this package.  The major version must match
// exactly.  Minor versions only add optional fields, so any minor version is
// accepted on read, and unknown map keys are skipped.
const (
	MajorFormatVersion uint = 1
	MinorFormatVersion uint = 0
)

// checkVersion returns an error if the format version of a file preamble
// cannot be decoded by this package.
func checkVersion(major, minor uint) (err error) {
	if major != MajorFormatVersion {
		return fmt.Errorf("%w: %d.%d", ErrUnsupportedVersion, major, minor)
	}

	return nil
}

// newEncMode returns the CBOR encoding mode shared by the whole package.
// OmitEmptyGoValue is required, since a field that is present and set to its
// type's zero value must still be emitted; only nil optionals are elided.
func newEncMode() (em cbor.EncMode) {
	em, err := cbor.EncOptions{
		OmitEmpty: cbor.OmitEmptyGoValue,
	}.EncMode()
	if err != nil {
		// Should never happen, since the options above are valid.
		panic(fmt.Errorf("cdns: creating encoding mode: %w", err))
	}

	return em
}

// newDecMode returns the CBOR decoding mode shared by the whole package.
// Duplicate map keys are rejected, since the data is untrusted and a
// duplicate key would silently overwrite a previously decoded field.
func newDecMode() (dm cbor.DecMode) {
	dm, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		// Should never happen, since the options above are valid.
		panic(fmt.Errorf("cdns: creating decoding mode: %w", err))
	}

	return dm
}

// cborEnc and cborDec are the package-wide CBOR codec modes.
var (
	cborEnc = newEncMode()
	cborDec = newDecMode()
)
