package cdns

import (
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/miekg/dns"
)

// FilePreamble is the version and parameter information for a whole C-DNS
// file.  Exactly one preamble precedes all blocks.
type FilePreamble struct {
	// MajorFormatVersion is the major version of the format.  It must be
	// [MajorFormatVersion].
	MajorFormatVersion uint `cbor:"0,keyasint"`

	// MinorFormatVersion is the minor version of the format.  Minor versions
	// are additive, so any value is accepted on read.
	MinorFormatVersion uint `cbor:"1,keyasint"`

	// PrivateVersion is an optional version indicator for private use by
	// implementations.  It is carried through unchanged.
	PrivateVersion *uint `cbor:"2,keyasint,omitempty"`

	// BlockParameters is the ordered, non-empty list of parameter sets.  Each
	// block selects one entry by index.  The list is immutable for the
	// lifetime of the file.
	BlockParameters []*BlockParameters `cbor:"3,keyasint"`
}

// validate returns an error if the preamble is invalid.
func (p *FilePreamble) validate() (err error) {
	err = checkVersion(p.MajorFormatVersion, p.MinorFormatVersion)
	if err != nil {
		return err
	}

	err = validate.NotEmptySlice("block_parameters", p.BlockParameters)
	if err != nil {
		return err
	}

	var errs []error
	for i, bp := range p.BlockParameters {
		errs = append(errs, errors.Annotate(bp.validate(), "block_parameters at index %d: %w", i))
	}

	return errors.Join(errs...)
}

// find returns the block-parameters entry at idx.
func (p *FilePreamble) find(idx uint64) (bp *BlockParameters, err error) {
	if idx >= uint64(len(p.BlockParameters)) {
		return nil, &IndexError{
			Table:  "block-parameters",
			Index:  idx,
			Length: len(p.BlockParameters),
		}
	}

	return p.BlockParameters[idx], nil
}

// BlockParameters is one named configuration that blocks select by index
// from the file-level list.
type BlockParameters struct {
	// Storage holds the parameters that affect how data is stored in a
	// block.  It must not be nil.
	Storage *StorageParameters `cbor:"0,keyasint"`

	// Collection holds purely descriptive metadata about how capture
	// occurred.  It carries no decoding semantics and may be nil.
	Collection *CollectionParameters `cbor:"1,keyasint,omitempty"`
}

// validate returns an error if the parameters are invalid.
func (bp *BlockParameters) validate() (err error) {
	if bp == nil {
		return errors.ErrNoValue
	}

	err = validate.NotNil("storage_parameters", bp.Storage)
	if err != nil {
		return err
	}

	return bp.Storage.validate()
}

// StorageParameters fix the time resolution, the block segmentation
// threshold, the storage hints, and the accepted opcode and RR-type sets of
// the blocks that select them.
type StorageParameters struct {
	// TicksPerSecond is the sub-second time resolution of all timestamps and
	// offsets in the block.  It must be between 1 and 1e9, that is, no finer
	// than nanosecond resolution.
	TicksPerSecond uint64 `cbor:"0,keyasint"`

	// MaxBlockItems is the number of stored records at which the writer
	// flushes the current block.  It must be positive.
	MaxBlockItems uint `cbor:"1,keyasint"`

	// Hints declare which optional fields this producer never emits.
	Hints StorageHints `cbor:"2,keyasint"`

	// Opcodes is the non-empty list of DNS OPCODEs recorded by the producer.
	// Each value is in the range 0 to 15.  Records with other opcodes are
	// rejected by the writer with a [PolicyError].
	Opcodes []uint8 `cbor:"3,keyasint"`

	// RRTypes is the non-empty list of resource record TYPEs recorded by the
	// producer.  Records carrying other RR types are rejected by the writer
	// with a [PolicyError].
	RRTypes []uint16 `cbor:"4,keyasint"`

	// Flags describe attributes of the stored data, see [StorageFlags].
	Flags *StorageFlags `cbor:"5,keyasint,omitempty"`

	// ClientAddressPrefixV4 is the stored prefix length of IPv4 client
	// addresses, in the range 1 to 32.  If nil, full addresses are stored.
	ClientAddressPrefixV4 *uint8 `cbor:"6,keyasint,omitempty"`

	// ClientAddressPrefixV6 is the stored prefix length of IPv6 client
	// addresses, in the range 1 to 128.  If nil, full addresses are stored.
	ClientAddressPrefixV6 *uint8 `cbor:"7,keyasint,omitempty"`

	// ServerAddressPrefixV4 is the stored prefix length of IPv4 server
	// addresses, in the range 1 to 32.  If nil, full addresses are stored.
	ServerAddressPrefixV4 *uint8 `cbor:"8,keyasint,omitempty"`

	// ServerAddressPrefixV6 is the stored prefix length of IPv6 server
	// addresses, in the range 1 to 128.  If nil, full addresses are stored.
	ServerAddressPrefixV6 *uint8 `cbor:"9,keyasint,omitempty"`

	// SamplingMethod is a free-text identifier of the sampling method used.
	SamplingMethod *string `cbor:"10,keyasint,omitempty"`

	// AnonymizationMethod is a free-text identifier of the anonymization
	// method used.
	AnonymizationMethod *string `cbor:"11,keyasint,omitempty"`
}

// validate returns an error if the parameters are invalid.
func (sp *StorageParameters) validate() (err error) {
	errs := []error{
		validate.InRange("ticks_per_second", sp.TicksPerSecond, 1, uint64(time.Second)),
		validate.Positive("max_block_items", sp.MaxBlockItems),
		validate.NotEmptySlice("opcodes", sp.Opcodes),
		validate.NotEmptySlice("rr_types", sp.RRTypes),
	}

	for _, op := range sp.Opcodes {
		if op > 15 {
			errs = append(errs, validate.InRange("opcodes", op, 0, 15))

			break
		}
	}

	if v := sp.ClientAddressPrefixV4; v != nil {
		errs = append(errs, validate.InRange("client_address_prefix_ipv4", *v, 1, 32))
	}

	if v := sp.ClientAddressPrefixV6; v != nil {
		errs = append(errs, validate.InRange("client_address_prefix_ipv6", *v, 1, 128))
	}

	if v := sp.ServerAddressPrefixV4; v != nil {
		errs = append(errs, validate.InRange("server_address_prefix_ipv4", *v, 1, 32))
	}

	if v := sp.ServerAddressPrefixV6; v != nil {
		errs = append(errs, validate.InRange("server_address_prefix_ipv6", *v, 1, 128))
	}

	return errors.Join(errs...)
}

// allowsOpcode reports whether op is in the accepted opcode set.
func (sp *StorageParameters) allowsOpcode(op uint8) (ok bool) {
	return slices.Contains(sp.Opcodes, op)
}

// allowsRRType reports whether rrType is in the accepted RR-type set.
func (sp *StorageParameters) allowsRRType(rrType uint16) (ok bool) {
	return slices.Contains(sp.RRTypes, rrType)
}

// StorageHints declare, per optional field, whether this producer ever emits
// it.  An unset bit means the field is never collected, which consumers must
// distinguish from the field being absent on an individual record.
type StorageHints struct {
	// QueryResponse holds the hints for [QueryResponse] fields.
	QueryResponse QueryResponseHints `cbor:"0,keyasint"`

	// Signature holds the hints for [Signature] fields.
	Signature QueryResponseSignatureHints `cbor:"1,keyasint"`

	// RR holds the hints for optional [RR] fields.
	RR RRHints `cbor:"2,keyasint"`

	// OtherData holds the hints for the non-query/response record
	// collections.
	OtherData OtherDataHints `cbor:"3,keyasint"`
}

// CollectionParameters describe how capture occurred.  All fields are
// optional metadata for downstream analyzers; none affect decoding.
type CollectionParameters struct {
	// QueryTimeout is the query matching timeout in milliseconds.
	QueryTimeout *uint32 `cbor:"0,keyasint,omitempty"`

	// SkewTimeout is the maximum allowed response-before-query skew in
	// microseconds.
	SkewTimeout *uint32 `cbor:"1,keyasint,omitempty"`

	// Snaplen is the per-packet capture length in bytes.
	Snaplen *uint32 `cbor:"2,keyasint,omitempty"`

	// Promisc indicates whether promiscuous mode was enabled.
	Promisc *bool `cbor:"3,keyasint,omitempty"`

	// Interfaces are the identifiers of the capture interfaces.
	Interfaces []string `cbor:"4,keyasint,omitempty"`

	// ServerAddresses are the collection server addresses in network byte
	// order.
	ServerAddresses [][]byte `cbor:"5,keyasint,omitempty"`

	// VLANIDs are the IEEE 802.1Q VLAN identifiers selected for collection.
	VLANIDs []uint16 `cbor:"6,keyasint,omitempty"`

	// Filter is the capture filter in tcpdump pcap-filter style.
	Filter *string `cbor:"7,keyasint,omitempty"`

	// GeneratorID is a human-readable identifier of the collection method.
	GeneratorID *string `cbor:"8,keyasint,omitempty"`

	// HostID identifies the collecting host.
	HostID *string `cbor:"9,keyasint,omitempty"`
}

// DefaultStorageParameters returns storage parameters that store everything:
// millisecond resolution, all opcodes, all RR types assigned by IANA that
// [dns.TypeToString] knows, and hints declaring every optional field
// collected.  c-dns consumers treat the returned value as their starting
// point and restrict it as needed.
func DefaultStorageParameters(maxBlockItems uint) (sp *StorageParameters) {
	opcodes := make([]uint8, 16)
	for i := range opcodes {
		opcodes[i] = uint8(i)
	}

	rrTypes := make([]uint16, 0, len(dns.TypeToString))
	for t := range dns.TypeToString {
		rrTypes = append(rrTypes, t)
	}

	slices.Sort(rrTypes)

	return &StorageParameters{
		TicksPerSecond: 1_000,
		MaxBlockItems:  maxBlockItems,
		Hints: StorageHints{
			QueryResponse: qrHintsAll,
			Signature:     sigHintsAll,
			RR:            rrHintsAll,
			OtherData:     otherDataHintsAll,
		},
		Opcodes: opcodes,
		RRTypes: rrTypes,
	}
}
