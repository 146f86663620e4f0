package cdns

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AdguardTeam/cdns/internal/cborio"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// WriterConfig is the configuration for a capture writer.
type WriterConfig struct {
	// Logger is used for logging the operation of the writer.  It must not
	// be nil.
	Logger *slog.Logger

	// BlockParameters are the parameter sets available to blocks of this
	// file.  If empty, a single default set with [DefaultMaxBlockItems] is
	// used.  The writer starts with the set at index zero.
	BlockParameters []*BlockParameters

	// PrivateVersion is an optional implementation-specific version number
	// stored in the file preamble.
	PrivateVersion *uint
}

// DefaultMaxBlockItems is the per-block item limit of the default block
// parameters.
const DefaultMaxBlockItems = 10_000

// Writer writes a stream of capture records, accumulating them into blocks
// and flushing each block as soon as it reaches the item limit of its
// parameters.  Writer is not safe for concurrent use.
type Writer struct {
	logger   *slog.Logger
	w        io.Writer
	preamble *FilePreamble

	block *blockBuilder

	// paramsIdx is the parameter set used for new blocks.
	paramsIdx uint64

	// written is the number of blocks flushed so far.
	written uint

	closed bool
}

// NewWriter returns a writer over w and writes the file header immediately.
func NewWriter(w io.Writer, c *WriterConfig) (wr *Writer, err error) {
	if w == nil {
		return nil, fmt.Errorf("w: %w", errors.ErrNoValue)
	}

	params := c.BlockParameters
	if len(params) == 0 {
		params = []*BlockParameters{{
			Storage: DefaultStorageParameters(DefaultMaxBlockItems),
		}}
	}

	preamble := &FilePreamble{
		MajorFormatVersion: MajorFormatVersion,
		MinorFormatVersion: MinorFormatVersion,
		PrivateVersion:     c.PrivateVersion,
		BlockParameters:    params,
	}

	err = preamble.validate()
	if err != nil {
		return nil, fmt.Errorf("writer config: %w", err)
	}

	wr = &Writer{
		logger:   c.Logger,
		w:        w,
		preamble: preamble,
	}

	err = wr.writeHeader()
	if err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	wr.block = newBlockBuilder(0, params[0])

	return wr, nil
}

// writeHeader writes the outer array header, the file type identifier, the
// file preamble, and the header of the indefinite-length blocks array.
func (wr *Writer) writeHeader() (err error) {
	err = cborio.WriteArrayHeader(wr.w, 3)
	if err != nil {
		return err
	}

	for _, v := range []any{FileTypeID, wr.preamble} {
		var b []byte
		b, err = cborEnc.Marshal(v)
		if err != nil {
			return err
		}

		_, err = wr.w.Write(b)
		if err != nil {
			return err
		}
	}

	return cborio.WriteIndefiniteArrayHeader(wr.w)
}

// SelectParameters switches new blocks to the parameter set at idx in the
// file preamble.  If the current block already has records, it is flushed
// first.
func (wr *Writer) SelectParameters(ctx context.Context, idx uint64) (err error) {
	if wr.closed {
		return ErrWriterClosed
	}

	params, err := wr.preamble.find(idx)
	if err != nil {
		return err
	}

	if idx == wr.paramsIdx {
		return nil
	}

	if wr.block.items > 0 {
		err = wr.flushBlock(ctx)
		if err != nil {
			return err
		}
	}

	wr.paramsIdx = idx
	wr.block = newBlockBuilder(idx, params)

	return nil
}

// AddQueryResponse adds qr to the capture.  A [*PolicyError] reports a
// record the current storage parameters refuse to store; the writer remains
// usable, and a discarded opcode is still counted in the block statistics.
func (wr *Writer) AddQueryResponse(ctx context.Context, qr *QueryResponse) (err error) {
	if wr.closed {
		return ErrWriterClosed
	}

	w, err := wr.block.addQueryResponse(qr)
	if err != nil {
		return err
	}

	return wr.added(ctx, w != nil)
}

// AddAddressEvent adds ev to the capture.
func (wr *Writer) AddAddressEvent(ctx context.Context, ev *AddressEvent) (err error) {
	if wr.closed {
		return ErrWriterClosed
	}

	err = validate.Positive("count", ev.Count)
	if err != nil {
		return err
	}

	err = wr.block.addAddressEvent(ev)
	if err != nil {
		return err
	}

	return wr.added(ctx, true)
}

// AddMalformedMessage adds mm to the capture.
func (wr *Writer) AddMalformedMessage(ctx context.Context, mm *MalformedMessage) (err error) {
	if wr.closed {
		return ErrWriterClosed
	}

	err = wr.block.addMalformedMessage(mm)
	if err != nil {
		return err
	}

	return wr.added(ctx, true)
}

// added flushes the current block if the record just added filled it.
func (wr *Writer) added(ctx context.Context, stored bool) (err error) {
	if !stored || wr.block.items < wr.block.params.Storage.MaxBlockItems {
		return nil
	}

	return wr.flushBlock(ctx)
}

// Flush writes out the current block even if it has not reached the item
// limit.  An empty block is not written.
func (wr *Writer) Flush(ctx context.Context) (err error) {
	if wr.closed {
		return ErrWriterClosed
	}

	if wr.block.items == 0 && wr.block.stats.discardedOpcode == 0 {
		return nil
	}

	return wr.flushBlock(ctx)
}

// Close flushes any pending block, terminates the blocks array, and marks
// the writer closed.  It does not close the underlying writer.
func (wr *Writer) Close(ctx context.Context) (err error) {
	if wr.closed {
		return ErrWriterClosed
	}

	err = wr.Flush(ctx)
	if err != nil {
		return err
	}

	wr.closed = true

	return cborio.WriteBreak(wr.w)
}

// flushBlock encodes the current block, writes it, and starts a fresh one
// with the same parameters.
func (wr *Writer) flushBlock(ctx context.Context) (err error) {
	bw := wr.block.wire()

	b, err := cborEnc.Marshal(bw)
	if err != nil {
		return fmt.Errorf("encoding block: %w", err)
	}

	_, err = wr.w.Write(b)
	if err != nil {
		return fmt.Errorf("writing block: %w", err)
	}

	wr.written++
	wr.logger.DebugContext(
		ctx,
		"block written",
		"index", wr.written-1,
		"items", wr.block.items,
		"size", len(b),
	)

	wr.block = newBlockBuilder(wr.paramsIdx, wr.block.params)

	return nil
}

// pendingRecord is a wire record waiting for the block flush, paired with
// its absolute time.  Time offsets are only computed at flush, once the
// earliest time across the whole block is known.
type pendingRecord[T any] struct {
	wire *T
	at   *time.Time
}

// blockStats accumulates the statistics counters of one open block.
type blockStats struct {
	qrItems            uint
	unmatchedQueries   uint
	unmatchedResponses uint
	discardedOpcode    uint
	malformedItems     uint
}

// blockBuilder accumulates the records and tables of one open block.
type blockBuilder struct {
	params *BlockParameters
	enc    *encoder

	qrs       []pendingRecord[qrWire]
	events    []*addressEventWire
	malformed []pendingRecord[malformedMsgWire]

	stats blockStats

	// paramsIdx is the index of params in the file preamble.
	paramsIdx uint64

	// items is the number of stored records, counted against
	// [StorageParameters.MaxBlockItems].
	items uint
}

// newBlockBuilder returns an empty builder for one block using the parameter
// set at paramsIdx.
func newBlockBuilder(paramsIdx uint64, params *BlockParameters) (b *blockBuilder) {
	return &blockBuilder{
		params:    params,
		enc:       newEncoder(params.Storage),
		paramsIdx: paramsIdx,
	}
}

// addQueryResponse lowers qr into the block.  A discarded opcode returns the
// [*PolicyError] with w nil after counting the discard.
func (b *blockBuilder) addQueryResponse(qr *QueryResponse) (w *qrWire, err error) {
	w, err = b.enc.queryResponse(qr)
	if err != nil {
		var perr *PolicyError
		if errors.As(err, &perr) && perr.Field == "query-opcode" {
			b.stats.discardedOpcode++
		}

		return nil, err
	}

	b.qrs = append(b.qrs, pendingRecord[qrWire]{wire: w, at: qr.Time})
	b.stats.qrItems++
	b.countMatch(qr.Signature)
	b.items++

	return w, nil
}

// countMatch updates the unmatched-query and unmatched-response counters
// from the signature flags of a stored pair.
func (b *blockBuilder) countMatch(sig *Signature) {
	if sig == nil || sig.Flags == nil {
		return
	}

	f := *sig.Flags
	if f&QRFlagHasQuery != 0 && f&QRFlagHasResponse == 0 {
		b.stats.unmatchedQueries++
	} else if f&QRFlagHasResponse != 0 && f&QRFlagHasQuery == 0 {
		b.stats.unmatchedResponses++
	}
}

// addAddressEvent lowers ev into the block.
func (b *blockBuilder) addAddressEvent(ev *AddressEvent) (err error) {
	w, err := b.enc.addressEvent(ev)
	if err != nil {
		return err
	}

	b.events = append(b.events, w)
	b.items++

	return nil
}

// addMalformedMessage lowers mm into the block.
func (b *blockBuilder) addMalformedMessage(mm *MalformedMessage) (err error) {
	w, err := b.enc.malformedMessage(mm)
	if err != nil {
		return err
	}

	b.malformed = append(b.malformed, pendingRecord[malformedMsgWire]{wire: w, at: mm.Time})
	b.stats.malformedItems++
	b.items++

	return nil
}

// earliestTime returns the earliest absolute time across all pending
// records, or nil if no record carries a time.
func (b *blockBuilder) earliestTime() (earliest *time.Time) {
	upd := func(t *time.Time) {
		if t != nil && (earliest == nil || t.Before(*earliest)) {
			earliest = t
		}
	}

	for _, p := range b.qrs {
		upd(p.at)
	}

	for _, p := range b.malformed {
		upd(p.at)
	}

	return earliest
}

// wire assembles the final wire form of the block, computing all time
// offsets against the earliest time.
func (b *blockBuilder) wire() (w *blockWire) {
	earliest := b.earliestTime()
	tps := b.params.Storage.TicksPerSecond

	w = &blockWire{
		Preamble:   &blockPreambleWire{},
		Statistics: b.stats.wire(),
		Tables:     b.enc.tables.wire(),
	}

	if earliest != nil {
		w.Preamble.EarliestTime = newTimestamp(*earliest, tps)
	}

	if b.paramsIdx != 0 {
		w.Preamble.ParametersIndex = ptrTo(b.paramsIdx)
	}

	for _, p := range b.qrs {
		p.wire.TimeOffset = offsetTicks(earliest, p.at, tps)
		w.QueryResponses = append(w.QueryResponses, p.wire)
	}

	w.AddressEvents = b.events

	for _, p := range b.malformed {
		p.wire.TimeOffset = offsetTicks(earliest, p.at, tps)
		w.MalformedMessages = append(w.MalformedMessages, p.wire)
	}

	return w
}

// wire returns the wire form of the statistics.
func (s *blockStats) wire() (w *BlockStatistics) {
	return &BlockStatistics{
		QRDataItems:        ptrTo(s.qrItems),
		UnmatchedQueries:   ptrTo(s.unmatchedQueries),
		UnmatchedResponses: ptrTo(s.unmatchedResponses),
		DiscardedOpcode:    ptrTo(s.discardedOpcode),
		MalformedItems:     ptrTo(s.malformedItems),
	}
}

// offsetTicks converts the absolute time at into a tick offset from
// earliest.  earliest is the minimum across the block, so the offset is
// never negative.
func offsetTicks(earliest, at *time.Time, tps uint64) (offset *uint64) {
	if at == nil {
		return nil
	}

	return ptrTo(uint64(durationToTicks(at.Sub(*earliest), tps)))
}
