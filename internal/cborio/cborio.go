// Package cborio provides low-level framing over a CBOR byte stream: writing
// bare array headers and break stop codes, and scanning single well-formed
// data items off a reader without decoding them.
//
// The general-purpose CBOR codec wants to own the whole input, but a capture
// stream must be framed by hand so that blocks can be written incrementally
// and read back one at a time.  This package does only that framing; all
// actual encoding and decoding of items is left to the codec.
package cborio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// CBOR major types.
const (
	majorUint   = 0
	majorNegInt = 1
	majorBytes  = 2
	majorText   = 3
	majorArray  = 4
	majorMap    = 5
	majorTag    = 6
	majorSimple = 7
)

// breakCode is the "break" stop code terminating indefinite-length items.
const breakCode = 0xff

// indefArrayHead is the head byte of an indefinite-length array.
const indefArrayHead = 0x9f

// maxNestingDepth is the maximum nesting depth of a single scanned item.
// Well-formed capture data stays far below it.
const maxNestingDepth = 64

// maxStringLen is the maximum length in bytes of a single definite-length
// string accepted while scanning, guarding against absurd length prefixes in
// corrupt input.
const maxStringLen = 1 << 30

// WriteArrayHeader writes the header of a definite-length array of n
// elements to w.
func WriteArrayHeader(w io.Writer, n uint64) (err error) {
	var buf [9]byte
	head := buf[:appendTypeHeader(buf[:0], majorArray, n)]

	_, err = w.Write(head)

	return err
}

// WriteIndefiniteArrayHeader writes the header of an indefinite-length array
// to w.  The array must later be terminated with [WriteBreak].
func WriteIndefiniteArrayHeader(w io.Writer) (err error) {
	_, err = w.Write([]byte{indefArrayHead})

	return err
}

// WriteBreak writes the "break" stop code terminating an indefinite-length
// item to w.
func WriteBreak(w io.Writer) (err error) {
	_, err = w.Write([]byte{breakCode})

	return err
}

// appendTypeHeader appends the initial bytes of an item of the given major
// type and argument to b and returns the new length.
func appendTypeHeader(b []byte, major byte, arg uint64) (n int) {
	mt := major << 5
	switch {
	case arg < 24:
		b = append(b, mt|byte(arg))
	case arg <= math.MaxUint8:
		b = append(b, mt|24, byte(arg))
	case arg <= math.MaxUint16:
		b = append(b, mt|25)
		b = binary.BigEndian.AppendUint16(b, uint16(arg))
	case arg <= math.MaxUint32:
		b = append(b, mt|26)
		b = binary.BigEndian.AppendUint32(b, uint32(arg))
	default:
		b = append(b, mt|27)
		b = binary.BigEndian.AppendUint64(b, arg)
	}

	return len(b)
}

// ItemReader scans single CBOR data items off a byte stream without decoding
// them.  It validates well-formedness only; semantic validation is up to the
// caller.
type ItemReader struct {
	r *bufio.Reader

	// item accumulates the bytes of the item being scanned.  It is reused
	// between calls to ReadRaw.
	item []byte
}

// NewItemReader returns an ItemReader over r.
func NewItemReader(r io.Reader) (ir *ItemReader) {
	return &ItemReader{
		r: bufio.NewReader(r),
	}
}

// ReadArrayHeader reads an array header from the stream.  For a
// definite-length array it returns its element count with indef false; for
// an indefinite-length array it returns indef true, and the elements run
// until a break code.
func (ir *ItemReader) ReadArrayHeader() (n uint64, indef bool, err error) {
	head, err := ir.r.ReadByte()
	if err != nil {
		return 0, false, noEOF(err)
	}

	if head == indefArrayHead {
		return 0, true, nil
	}

	major, info := head>>5, head&0x1f
	if major != majorArray {
		return 0, false, fmt.Errorf("cborio: expected array, got major type %d", major)
	}

	n, err = ir.readArg(info)
	if err != nil {
		return 0, false, err
	}

	return n, false, nil
}

// NextIsBreak reports whether the next byte of the stream is the break stop
// code and consumes it if so.
func (ir *ItemReader) NextIsBreak() (ok bool, err error) {
	b, err := ir.r.ReadByte()
	if err != nil {
		return false, err
	}

	if b != breakCode {
		err = ir.r.UnreadByte()

		return false, err
	}

	return true, nil
}

// ReadRaw reads the next complete data item from the stream and returns its
// raw bytes.  The returned slice is only valid until the next call.  At a
// clean item boundary it returns [io.EOF]; inside an item it returns
// [io.ErrUnexpectedEOF].
func (ir *ItemReader) ReadRaw() (item []byte, err error) {
	ir.item = ir.item[:0]

	err = ir.scanItem(0)
	if err != nil {
		if err == io.EOF && len(ir.item) > 0 {
			err = io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return ir.item, nil
}

// scanItem scans one data item into ir.item, recursing for the children of
// container types.
func (ir *ItemReader) scanItem(depth int) (err error) {
	if depth > maxNestingDepth {
		return fmt.Errorf("cborio: nesting depth exceeds %d", maxNestingDepth)
	}

	head, err := ir.r.ReadByte()
	if err != nil {
		return err
	}

	ir.item = append(ir.item, head)

	major, info := head>>5, head&0x1f
	if info == 31 {
		return ir.scanIndefinite(major, depth)
	}

	arg, err := ir.scanArg(info)
	if err != nil {
		return noEOF(err)
	}

	switch major {
	case majorUint, majorNegInt, majorSimple:
		return nil
	case majorBytes, majorText:
		return ir.scanStringBody(arg)
	case majorArray:
		return ir.scanChildren(arg, depth)
	case majorMap:
		if arg > math.MaxUint64/2 {
			return fmt.Errorf("cborio: map length %d overflows", arg)
		}

		return ir.scanChildren(arg*2, depth)
	case majorTag:
		return ir.scanItem(depth + 1)
	default:
		panic(fmt.Errorf("cborio: bad major type %d", major))
	}
}

// scanIndefinite scans the body of an indefinite-length item whose head byte
// has already been consumed.
func (ir *ItemReader) scanIndefinite(major byte, depth int) (err error) {
	switch major {
	case majorBytes, majorText:
		return ir.scanIndefiniteString(major)
	case majorArray:
		return ir.scanIndefiniteChildren(depth, 1)
	case majorMap:
		return ir.scanIndefiniteChildren(depth, 2)
	default:
		return fmt.Errorf("cborio: major type %d cannot be indefinite", major)
	}
}

// scanIndefiniteString scans the chunks of an indefinite-length string.
// Each chunk must be a definite-length string of the same major type.
func (ir *ItemReader) scanIndefiniteString(major byte) (err error) {
	for {
		head, err := ir.r.ReadByte()
		if err != nil {
			return noEOF(err)
		}

		ir.item = append(ir.item, head)
		if head == breakCode {
			return nil
		}

		chunkMajor, info := head>>5, head&0x1f
		if chunkMajor != major || info == 31 {
			return fmt.Errorf("cborio: bad chunk in indefinite-length string")
		}

		arg, err := ir.scanArg(info)
		if err != nil {
			return noEOF(err)
		}

		err = ir.scanStringBody(arg)
		if err != nil {
			return err
		}
	}
}

// scanIndefiniteChildren scans items until a break code, itemsPer at a time.
func (ir *ItemReader) scanIndefiniteChildren(depth, itemsPer int) (err error) {
	for {
		b, err := ir.r.ReadByte()
		if err != nil {
			return noEOF(err)
		}

		if b == breakCode {
			ir.item = append(ir.item, b)

			return nil
		}

		err = ir.r.UnreadByte()
		if err != nil {
			return err
		}

		for range itemsPer {
			err = ir.scanItem(depth + 1)
			if err != nil {
				return noEOF(err)
			}
		}
	}
}

// scanChildren scans n child items.
func (ir *ItemReader) scanChildren(n uint64, depth int) (err error) {
	for range n {
		err = ir.scanItem(depth + 1)
		if err != nil {
			return noEOF(err)
		}
	}

	return nil
}

// scanStringBody scans n bytes of string payload.
func (ir *ItemReader) scanStringBody(n uint64) (err error) {
	if n > maxStringLen {
		return fmt.Errorf("cborio: string length %d exceeds %d", n, maxStringLen)
	}

	off := len(ir.item)
	ir.item = append(ir.item, make([]byte, n)...)

	_, err = io.ReadFull(ir.r, ir.item[off:])

	return err
}

// scanArg reads the argument encoded by info, appending its bytes to
// ir.item.
func (ir *ItemReader) scanArg(info byte) (arg uint64, err error) {
	var argLen int
	switch {
	case info < 24:
		return uint64(info), nil
	case info == 24:
		argLen = 1
	case info == 25:
		argLen = 2
	case info == 26:
		argLen = 4
	case info == 27:
		argLen = 8
	default:
		return 0, fmt.Errorf("cborio: reserved additional information %d", info)
	}

	off := len(ir.item)
	ir.item = append(ir.item, make([]byte, argLen)...)

	_, err = io.ReadFull(ir.r, ir.item[off:])
	if err != nil {
		return 0, err
	}

	for _, b := range ir.item[off:] {
		arg = arg<<8 | uint64(b)
	}

	return arg, nil
}

// readArg reads the argument encoded by info without accumulating bytes.
func (ir *ItemReader) readArg(info byte) (arg uint64, err error) {
	var argLen int
	switch {
	case info < 24:
		return uint64(info), nil
	case info == 24:
		argLen = 1
	case info == 25:
		argLen = 2
	case info == 26:
		argLen = 4
	case info == 27:
		argLen = 8
	default:
		return 0, fmt.Errorf("cborio: reserved additional information %d", info)
	}

	var buf [8]byte
	_, err = io.ReadFull(ir.r, buf[:argLen])
	if err != nil {
		return 0, noEOF(err)
	}

	for _, b := range buf[:argLen] {
		arg = arg<<8 | uint64(b)
	}

	return arg, nil
}

// noEOF converts [io.EOF] into [io.ErrUnexpectedEOF] for errors occurring in
// the middle of an item.
func noEOF(err error) (res error) {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}

	return err
}
