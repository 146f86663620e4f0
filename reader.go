package cdns

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AdguardTeam/cdns/internal/cborio"
	"github.com/AdguardTeam/golibs/errors"
)

// ReaderConfig is the configuration for a capture reader.
type ReaderConfig struct {
	// Logger is used for logging the operation of the reader.  It must not
	// be nil.
	Logger *slog.Logger
}

// Block is one fully decoded block: its records with all table indices
// resolved and all timestamps made absolute.
type Block struct {
	// Parameters is the parameter set the block was stored under.
	Parameters *BlockParameters

	// EarliestTime is the time anchor of the block, or nil if no record in
	// the block carries a time.
	EarliestTime *time.Time

	// Statistics are the optional per-block counters, or nil.
	Statistics *BlockStatistics

	// QueryResponses are the query/response records of the block.
	QueryResponses []*QueryResponse

	// AddressEvents are the address event counts of the block.
	AddressEvents []*AddressEvent

	// MalformedMessages are the malformed message records of the block.
	MalformedMessages []*MalformedMessage
}

// Reader reads a capture stream one block at a time.  Blocks past the one
// being read are not buffered, so a file much larger than memory can be
// scanned sequentially.  Reader is not safe for concurrent use.
type Reader struct {
	logger   *slog.Logger
	items    *cborio.ItemReader
	preamble *FilePreamble

	// blocksLeft is the number of blocks remaining when the blocks array is
	// definite-length.
	blocksLeft uint64

	// indef is true when the blocks array is indefinite-length and runs
	// until a break code.
	indef bool

	// read is the number of blocks decoded so far.
	read uint

	// err is the first error returned by Next.  Once set, every subsequent
	// call returns it; a decoding error leaves the stream position
	// undefined.
	err error
}

// NewReader returns a reader over r.  It reads and validates the file
// header before returning.
func NewReader(r io.Reader, c *ReaderConfig) (rd *Reader, err error) {
	if r == nil {
		return nil, fmt.Errorf("r: %w", errors.ErrNoValue)
	}

	rd = &Reader{
		logger: c.Logger,
		items:  cborio.NewItemReader(r),
	}

	err = rd.readHeader()
	if err != nil {
		return nil, err
	}

	return rd, nil
}

// Preamble returns the file preamble.
func (rd *Reader) Preamble() (p *FilePreamble) {
	return rd.preamble
}

// readHeader reads the outer array header, the file type identifier, the
// file preamble, and the header of the blocks array.
func (rd *Reader) readHeader() (err error) {
	n, indef, err := rd.items.ReadArrayHeader()
	if err != nil {
		return fmt.Errorf("reading outer array: %w", err)
	}

	if !indef && n != 3 {
		return fmt.Errorf("%w: outer array has %d elements", ErrMalformed, n)
	}

	err = rd.readFileTypeID()
	if err != nil {
		return err
	}

	err = rd.readPreamble()
	if err != nil {
		return err
	}

	rd.blocksLeft, rd.indef, err = rd.items.ReadArrayHeader()
	if err != nil {
		return fmt.Errorf("reading blocks array: %w", err)
	}

	return nil
}

// readFileTypeID reads and checks the file type identifier.
func (rd *Reader) readFileTypeID() (err error) {
	item, err := rd.items.ReadRaw()
	if err != nil {
		return fmt.Errorf("reading file type id: %w", err)
	}

	var id string
	err = cborDec.Unmarshal(item, &id)
	if err != nil || id != FileTypeID {
		return ErrBadFileTypeID
	}

	return nil
}

// readPreamble reads and validates the file preamble.
func (rd *Reader) readPreamble() (err error) {
	item, err := rd.items.ReadRaw()
	if err != nil {
		return fmt.Errorf("reading file preamble: %w", err)
	}

	p := &FilePreamble{}
	err = cborDec.Unmarshal(item, p)
	if err != nil {
		return fmt.Errorf("%w: decoding file preamble: %w", ErrMalformed, err)
	}

	err = p.validate()
	if err != nil {
		return fmt.Errorf("file preamble: %w", err)
	}

	rd.preamble = p

	return nil
}

// Next reads and decodes the next block.  At the end of the stream it
// returns [io.EOF].  After any error, including a decoding error within a
// block, all further calls return the same error.
func (rd *Reader) Next(ctx context.Context) (b *Block, err error) {
	if rd.err != nil {
		return nil, rd.err
	}

	b, err = rd.next(ctx)
	if err != nil {
		rd.err = err

		return nil, err
	}

	return b, nil
}

// next implements Next.
func (rd *Reader) next(ctx context.Context) (b *Block, err error) {
	done, err := rd.atEnd()
	if err != nil {
		return nil, err
	} else if done {
		return nil, io.EOF
	}

	item, err := rd.items.ReadRaw()
	if err != nil {
		if err == io.EOF {
			// A definite element count promised more blocks.
			err = io.ErrUnexpectedEOF
		}

		return nil, fmt.Errorf("reading block %d: %w", rd.read, err)
	}

	bw := &blockWire{}
	err = cborDec.Unmarshal(item, bw)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding block %d: %w", ErrMalformed, rd.read, err)
	}

	b, err = rd.decodeBlock(bw)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", rd.read, err)
	}

	if !rd.indef {
		rd.blocksLeft--
	}

	rd.read++
	rd.logger.DebugContext(
		ctx,
		"block read",
		"index", rd.read-1,
		"items", len(b.QueryResponses)+len(b.AddressEvents)+len(b.MalformedMessages),
	)

	return b, nil
}

// atEnd reports whether the blocks array is exhausted, consuming the break
// code of an indefinite-length array.
func (rd *Reader) atEnd() (done bool, err error) {
	if !rd.indef {
		return rd.blocksLeft == 0, nil
	}

	done, err = rd.items.NextIsBreak()
	if err != nil {
		if err == io.EOF {
			return false, fmt.Errorf("blocks array: %w", io.ErrUnexpectedEOF)
		}

		return false, err
	}

	return done, nil
}

// decodeBlock resolves bw into its application form.
func (rd *Reader) decodeBlock(bw *blockWire) (b *Block, err error) {
	if bw.Preamble == nil {
		return nil, fmt.Errorf("%w: block has no preamble", ErrMalformed)
	}

	idx := uint64(0)
	if i := bw.Preamble.ParametersIndex; i != nil {
		idx = *i
	}

	params, err := rd.preamble.find(idx)
	if err != nil {
		return nil, err
	}

	b = &Block{
		Parameters: params,
		Statistics: bw.Statistics,
	}

	if ts := bw.Preamble.EarliestTime; ts != nil {
		var et time.Time
		et, err = ts.time(params.Storage.TicksPerSecond)
		if err != nil {
			return nil, err
		}

		b.EarliestTime = &et
	}

	err = checkBlockArrays(bw)
	if err != nil {
		return nil, err
	}

	d := newDecoder(bw.Tables, params.Storage, b.EarliestTime)

	for _, w := range bw.QueryResponses {
		var qr *QueryResponse
		qr, err = d.queryResponse(w)
		if err != nil {
			return nil, err
		}

		b.QueryResponses = append(b.QueryResponses, qr)
	}

	for _, w := range bw.AddressEvents {
		var ev *AddressEvent
		ev, err = d.addressEvent(w)
		if err != nil {
			return nil, err
		}

		b.AddressEvents = append(b.AddressEvents, ev)
	}

	for _, w := range bw.MalformedMessages {
		var mm *MalformedMessage
		mm, err = d.malformedMessage(w)
		if err != nil {
			return nil, err
		}

		b.MalformedMessages = append(b.MalformedMessages, mm)
	}

	return b, nil
}

// checkBlockArrays rejects present-but-empty record and table arrays.  An
// absent array decodes to a nil slice; a present one must be non-empty.
func checkBlockArrays(bw *blockWire) (err error) {
	arrays := []struct {
		name  string
		empty bool
	}{
		{"query-responses", bw.QueryResponses != nil && len(bw.QueryResponses) == 0},
		{"address-event-counts", bw.AddressEvents != nil && len(bw.AddressEvents) == 0},
		{"malformed-messages", bw.MalformedMessages != nil && len(bw.MalformedMessages) == 0},
	}

	for _, a := range arrays {
		if a.empty {
			return fmt.Errorf("%w: empty %s array", ErrMalformed, a.name)
		}
	}

	return nil
}
