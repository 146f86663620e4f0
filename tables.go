package cdns

import (
	"fmt"
)

// Deduplication Tables
//
// Each block owns one set of append-only tables.  Interning the same value
// twice returns the same index, equality being byte-exact over the encoded
// form.  Entries are never removed or mutated, so issued indices stay valid
// for the lifetime of the block and become meaningless beyond it.

// Block table names, used in [IndexError].
const (
	tableIPAddress     = "ip-address"
	tableClassType     = "classtype"
	tableNameRData     = "name-rdata"
	tableSignature     = "qr-sig"
	tableQuestionList  = "qlist"
	tableQuestion      = "qrr"
	tableRRList        = "rrlist"
	tableRR            = "rr"
	tableMalformedData = "malformed-message-data"
)

// table is one append-only deduplication table.  key must produce a
// byte-exact structural key for a value.
type table[T any] struct {
	key   func(v T) (k string)
	index map[string]uint64
	items []T
}

// newTable returns an empty table using key for equality.
func newTable[T any](key func(v T) (k string)) (t *table[T]) {
	return &table[T]{
		key:   key,
		index: map[string]uint64{},
	}
}

// intern returns the index of an entry equal to v, appending v if there is
// none yet.  Interning is deterministic: identical sequences of values
// produce identical tables.
func (t *table[T]) intern(v T) (idx uint64) {
	k := t.key(v)
	idx, ok := t.index[k]
	if ok {
		return idx
	}

	idx = uint64(len(t.items))
	t.items = append(t.items, v)
	t.index[k] = idx

	return idx
}

// bytesKey is the key function for byte-string tables.
func bytesKey(b []byte) (k string) { return string(b) }

// cborKey is a key function deriving the structural key of a value from its
// CBOR encoding.
func cborKey[T any](v T) (k string) {
	b, err := cborEnc.Marshal(v)
	if err != nil {
		// Should never happen, since only wire types are interned.
		panic(fmt.Errorf("cdns: encoding table key: %w", err))
	}

	return string(b)
}

// lookup resolves idx in tbl, returning an [IndexError] naming the table if
// the index is at or past the end.
func lookup[T any](tbl []T, idx uint64, name string) (v T, err error) {
	if idx >= uint64(len(tbl)) {
		return v, &IndexError{
			Table:  name,
			Index:  idx,
			Length: len(tbl),
		}
	}

	return tbl[idx], nil
}

// tableSet is the full set of deduplication tables of one open block.
type tableSet struct {
	ipAddress     *table[[]byte]
	classType     *table[ClassType]
	nameRData     *table[[]byte]
	signature     *table[*sigWire]
	questionList  *table[[]uint64]
	question      *table[questionWire]
	rrList        *table[[]uint64]
	rr            *table[*rrWire]
	malformedData *table[*malformedMsgDataWire]
}

// newTableSet returns a fresh, empty table set.
func newTableSet() (ts *tableSet) {
	return &tableSet{
		ipAddress:     newTable(bytesKey),
		classType:     newTable(cborKey[ClassType]),
		nameRData:     newTable(bytesKey),
		signature:     newTable(cborKey[*sigWire]),
		questionList:  newTable(cborKey[[]uint64]),
		question:      newTable(cborKey[questionWire]),
		rrList:        newTable(cborKey[[]uint64]),
		rr:            newTable(cborKey[*rrWire]),
		malformedData: newTable(cborKey[*malformedMsgDataWire]),
	}
}

// wire returns the wire form of the tables, or nil if no record in the block
// referenced any table.
func (ts *tableSet) wire() (w *blockTablesWire) {
	if len(ts.ipAddress.items) == 0 &&
		len(ts.classType.items) == 0 &&
		len(ts.nameRData.items) == 0 &&
		len(ts.signature.items) == 0 &&
		len(ts.questionList.items) == 0 &&
		len(ts.question.items) == 0 &&
		len(ts.rrList.items) == 0 &&
		len(ts.rr.items) == 0 &&
		len(ts.malformedData.items) == 0 {
		return nil
	}

	return &blockTablesWire{
		IPAddress:            ts.ipAddress.items,
		ClassType:            ts.classType.items,
		NameRData:            ts.nameRData.items,
		Signature:            ts.signature.items,
		QuestionList:         ts.questionList.items,
		Question:             ts.question.items,
		RRList:               ts.rrList.items,
		RR:                   ts.rr.items,
		MalformedMessageData: ts.malformedData.items,
	}
}
