package cdns

import (
	"fmt"
	"time"
)

// Wire Representation
//
// The types below mirror the RFC 8618 maps with their small unsigned integer
// keys.  They are not part of the public API: the encoder lowers application
// records into them, and the decoder raises them back, resolving all table
// indices along the way.

// timestamp is the wire form of an absolute time: seconds since the POSIX
// epoch and ticks into the second, as a two-element array.
type timestamp struct {
	_ struct{} `cbor:",toarray"`

	Secs  int64
	Ticks uint64
}

// newTimestamp converts t into wire form at a resolution of ticksPerSec.
func newTimestamp(t time.Time, ticksPerSec uint64) (ts *timestamp) {
	secs := t.Unix()
	nanos := uint64(t.Nanosecond())

	return &timestamp{
		Secs:  secs,
		Ticks: nanos * ticksPerSec / uint64(time.Second),
	}
}

// time converts the wire timestamp back into a time.Time at a resolution of
// ticksPerSec.  Ticks must fit into one second.
func (ts *timestamp) time(ticksPerSec uint64) (t time.Time, err error) {
	if ts.Ticks >= ticksPerSec {
		return time.Time{}, fmt.Errorf(
			"%w: timestamp has %d ticks at %d per second",
			ErrMalformed,
			ts.Ticks,
			ticksPerSec,
		)
	}

	nanos := ts.Ticks * uint64(time.Second) / ticksPerSec

	return time.Unix(ts.Secs, int64(nanos)).UTC(), nil
}

// ticksToDuration converts a tick count into a duration at a resolution of
// ticksPerSec.  Whole seconds and the sub-second remainder are converted
// separately so that large tick counts at high resolutions do not overflow.
func ticksToDuration(ticks int64, ticksPerSec uint64) (d time.Duration) {
	tps := int64(ticksPerSec)
	nanos := ticks % tps * int64(time.Second) / tps

	return time.Duration(ticks/tps)*time.Second + time.Duration(nanos)
}

// durationToTicks converts a duration into a tick count at a resolution of
// ticksPerSec.
func durationToTicks(d time.Duration, ticksPerSec uint64) (ticks int64) {
	tps := int64(ticksPerSec)
	nanos := int64(d) % int64(time.Second)

	return int64(d/time.Second)*tps + nanos*tps/int64(time.Second)
}

// blockWire is the wire form of one block.  Preamble is the only mandatory
// element; a block without one does not decode.
type blockWire struct {
	Preamble          *blockPreambleWire  `cbor:"0,keyasint"`
	Statistics        *BlockStatistics    `cbor:"1,keyasint,omitempty"`
	Tables            *blockTablesWire    `cbor:"2,keyasint,omitempty"`
	QueryResponses    []*qrWire           `cbor:"3,keyasint,omitempty"`
	AddressEvents     []*addressEventWire `cbor:"4,keyasint,omitempty"`
	MalformedMessages []*malformedMsgWire `cbor:"5,keyasint,omitempty"`
}

// blockPreambleWire is the wire form of the block preamble.  EarliestTime is
// mandatory unless every record in the block omits its time offset.
// ParametersIndex defaults to 0 and is elided at that value.
type blockPreambleWire struct {
	EarliestTime    *timestamp `cbor:"0,keyasint,omitempty"`
	ParametersIndex *uint64    `cbor:"1,keyasint,omitempty"`
}

// BlockStatistics are optional per-block counters.  Nil fields are unknown,
// not zero.
type BlockStatistics struct {
	// ProcessedMessages is the number of well-formed DNS messages processed
	// from the input stream for this block.
	ProcessedMessages *uint `cbor:"0,keyasint,omitempty"`

	// QRDataItems is the number of query/response items in this block.
	QRDataItems *uint `cbor:"1,keyasint,omitempty"`

	// UnmatchedQueries is the number of queries with no matching response.
	UnmatchedQueries *uint `cbor:"2,keyasint,omitempty"`

	// UnmatchedResponses is the number of responses with no matching query.
	UnmatchedResponses *uint `cbor:"3,keyasint,omitempty"`

	// DiscardedOpcode is the number of messages not recorded because their
	// opcode is outside the accepted set of the storage parameters.
	DiscardedOpcode *uint `cbor:"4,keyasint,omitempty"`

	// MalformedItems is the number of malformed messages in this block.
	MalformedItems *uint `cbor:"5,keyasint,omitempty"`
}

// blockTablesWire is the wire form of the per-block deduplication tables.
// Each array, if present, is non-empty, and all indices elsewhere in the
// block must be smaller than the length of the table they reference.
type blockTablesWire struct {
	IPAddress            [][]byte                `cbor:"0,keyasint,omitempty"`
	ClassType            []ClassType             `cbor:"1,keyasint,omitempty"`
	NameRData            [][]byte                `cbor:"2,keyasint,omitempty"`
	Signature            []*sigWire              `cbor:"3,keyasint,omitempty"`
	QuestionList         [][]uint64              `cbor:"4,keyasint,omitempty"`
	Question             []questionWire          `cbor:"5,keyasint,omitempty"`
	RRList               [][]uint64              `cbor:"6,keyasint,omitempty"`
	RR                   []*rrWire               `cbor:"7,keyasint,omitempty"`
	MalformedMessageData []*malformedMsgDataWire `cbor:"8,keyasint,omitempty"`
}

// ClassType is a pair of DNS CLASS and TYPE values.  It is stored in the
// classtype block table and shared between questions, resource records, and
// signatures.
type ClassType struct {
	// Type is the resource record TYPE value.
	Type uint16 `cbor:"0,keyasint"`

	// Class is the CLASS value.
	Class uint16 `cbor:"1,keyasint"`
}

// questionWire is the wire form of a single question: indices into the
// name-rdata and classtype tables.
type questionWire struct {
	NameIndex      uint64 `cbor:"0,keyasint"`
	ClassTypeIndex uint64 `cbor:"1,keyasint"`
}

// rrWire is the wire form of a single resource record.
type rrWire struct {
	NameIndex      uint64  `cbor:"0,keyasint"`
	ClassTypeIndex uint64  `cbor:"1,keyasint"`
	TTL            *uint32 `cbor:"2,keyasint,omitempty"`
	RDataIndex     *uint64 `cbor:"3,keyasint,omitempty"`
}

// sigWire is the wire form of a query/response signature.
type sigWire struct {
	ServerAddressIndex  *uint64             `cbor:"0,keyasint,omitempty"`
	ServerPort          *uint16             `cbor:"1,keyasint,omitempty"`
	TransportFlags      *TransportFlags     `cbor:"2,keyasint,omitempty"`
	QRType              *QueryResponseType  `cbor:"3,keyasint,omitempty"`
	Flags               *QueryResponseFlags `cbor:"4,keyasint,omitempty"`
	QueryOpcode         *uint8              `cbor:"5,keyasint,omitempty"`
	DNSFlags            *DNSFlags           `cbor:"6,keyasint,omitempty"`
	QueryRcode          *uint16             `cbor:"7,keyasint,omitempty"`
	QueryClassTypeIndex *uint64             `cbor:"8,keyasint,omitempty"`
	QueryQDCount        *uint               `cbor:"9,keyasint,omitempty"`
	QueryANCount        *uint               `cbor:"10,keyasint,omitempty"`
	QueryNSCount        *uint               `cbor:"11,keyasint,omitempty"`
	QueryARCount        *uint               `cbor:"12,keyasint,omitempty"`
	QueryEDNSVersion    *uint8              `cbor:"13,keyasint,omitempty"`
	QueryUDPSize        *uint16             `cbor:"14,keyasint,omitempty"`
	QueryOptRDataIndex  *uint64             `cbor:"15,keyasint,omitempty"`
	ResponseRcode       *uint16             `cbor:"16,keyasint,omitempty"`
}

// qrWire is the wire form of a query/response record.
type qrWire struct {
	TimeOffset         *uint64       `cbor:"0,keyasint,omitempty"`
	ClientAddressIndex *uint64       `cbor:"1,keyasint,omitempty"`
	ClientPort         *uint16       `cbor:"2,keyasint,omitempty"`
	TransactionID      *uint16       `cbor:"3,keyasint,omitempty"`
	SignatureIndex     *uint64       `cbor:"4,keyasint,omitempty"`
	ClientHopLimit     *uint8        `cbor:"5,keyasint,omitempty"`
	ResponseDelay      *int64        `cbor:"6,keyasint,omitempty"`
	QueryNameIndex     *uint64       `cbor:"7,keyasint,omitempty"`
	QuerySize          *uint16       `cbor:"8,keyasint,omitempty"`
	ResponseSize       *uint16       `cbor:"9,keyasint,omitempty"`
	ResponseProcessing *respProcWire `cbor:"10,keyasint,omitempty"`
	QueryExtended      *extendedWire `cbor:"11,keyasint,omitempty"`
	ResponseExtended   *extendedWire `cbor:"12,keyasint,omitempty"`
}

// respProcWire is the wire form of the response processing data.
type respProcWire struct {
	BailiwickIndex *uint64                  `cbor:"0,keyasint,omitempty"`
	Flags          *ResponseProcessingFlags `cbor:"1,keyasint,omitempty"`
}

// extendedWire is the wire form of the extended section data of one half of
// a query/response pair.  All fields are indices into the list tables, so
// resolving them takes two hops: list table, then entry table.
type extendedWire struct {
	QuestionIndex   *uint64 `cbor:"0,keyasint,omitempty"`
	AnswerIndex     *uint64 `cbor:"1,keyasint,omitempty"`
	AuthorityIndex  *uint64 `cbor:"2,keyasint,omitempty"`
	AdditionalIndex *uint64 `cbor:"3,keyasint,omitempty"`
}

// addressEventWire is the wire form of an aggregated address event count.
type addressEventWire struct {
	Type           AddressEventType `cbor:"0,keyasint"`
	Code           *uint32          `cbor:"1,keyasint,omitempty"`
	AddressIndex   uint64           `cbor:"2,keyasint"`
	TransportFlags *TransportFlags  `cbor:"3,keyasint,omitempty"`
	Count          uint64           `cbor:"4,keyasint"`
}

// malformedMsgWire is the wire form of a malformed message record.
type malformedMsgWire struct {
	TimeOffset         *uint64 `cbor:"0,keyasint,omitempty"`
	ClientAddressIndex *uint64 `cbor:"1,keyasint,omitempty"`
	ClientPort         *uint16 `cbor:"2,keyasint,omitempty"`
	MessageDataIndex   *uint64 `cbor:"3,keyasint,omitempty"`
}

// malformedMsgDataWire is the wire form of the shared payload data of
// malformed messages, stored in its own block table.
type malformedMsgDataWire struct {
	ServerAddressIndex *uint64         `cbor:"0,keyasint,omitempty"`
	ServerPort         *uint16         `cbor:"1,keyasint,omitempty"`
	TransportFlags     *TransportFlags `cbor:"2,keyasint,omitempty"`
	Payload            []byte          `cbor:"3,keyasint,omitempty"`
}
