package cdns

// Bitfield Flags
//
// Every flag set below is stored on the wire as a single unsigned integer.
// Bit positions follow RFC 8618.  Decoding keeps unknown set bits, so values
// written by future minor format versions survive a round trip unchanged.
// Encoding of caller-constructed records rejects unknown bits instead, since
// this implementation cannot know what they would declare.

// Transport is the DNS transport carried in bits 1-4 of [TransportFlags].
type Transport uint8

// Transport values.  5-14 are reserved for future use.
const (
	TransportUDP         Transport = 0
	TransportTCP         Transport = 1
	TransportTLS         Transport = 2
	TransportDTLS        Transport = 3
	TransportHTTPS       Transport = 4
	TransportNonStandard Transport = 15
)

// TransportFlags describe the transport used to service a query, an address
// event, or a malformed message.  Bit 0 is the IP version, bits 1-4 are the
// [Transport], and bit 5, only meaningful in a query/response signature,
// marks trailing bytes in the query packet.  The query/response and
// malformed-message variants are one flat enumeration over disjoint bit
// ranges, not nested flag sets.
type TransportFlags uint8

// TransportFlags bits.
const (
	TransportFlagIPv6         TransportFlags = 1 << 0
	TransportFlagTrailingData TransportFlags = 1 << 5
)

// transportFlagsKnown is the union of all defined TransportFlags bits.
const transportFlagsKnown TransportFlags = 0b0011_1111

// NewTransportFlags returns flags with the given IP version and transport.
func NewTransportFlags(ipv6 bool, t Transport) (f TransportFlags) {
	if ipv6 {
		f |= TransportFlagIPv6
	}

	return f | TransportFlags(t&0x0f)<<1
}

// IsIPv6 reports whether the IP version bit is set.
func (f TransportFlags) IsIPv6() (ok bool) { return f&TransportFlagIPv6 != 0 }

// Transport returns the transport carried in bits 1-4.
func (f TransportFlags) Transport() (t Transport) { return Transport(f>>1) & 0x0f }

// QueryResponseFlags indicate which halves of a query/response pair are
// present and how their question and OPT records looked.
type QueryResponseFlags uint8

// QueryResponseFlags bits.
const (
	QRFlagHasQuery              QueryResponseFlags = 1 << 0
	QRFlagHasResponse           QueryResponseFlags = 1 << 1
	QRFlagQueryHasOPT           QueryResponseFlags = 1 << 2
	QRFlagResponseHasOPT        QueryResponseFlags = 1 << 3
	QRFlagQueryHasNoQuestion    QueryResponseFlags = 1 << 4
	QRFlagResponseHasNoQuestion QueryResponseFlags = 1 << 5
)

// qrFlagsKnown is the union of all defined QueryResponseFlags bits.
const qrFlagsKnown QueryResponseFlags = 0b0011_1111

// Has reports whether all bits of mask are set in f.
func (f QueryResponseFlags) Has(mask QueryResponseFlags) (ok bool) { return f&mask == mask }

// DNSFlags pack the DNS header flags of the query (bits 0-7, including the
// EDNS DO bit) and of the response (bits 8-14).  Bits belonging to an absent
// half are zero.
type DNSFlags uint16

// DNSFlags bits.
const (
	DNSFlagQueryCD    DNSFlags = 1 << 0
	DNSFlagQueryAD    DNSFlags = 1 << 1
	DNSFlagQueryZ     DNSFlags = 1 << 2
	DNSFlagQueryRA    DNSFlags = 1 << 3
	DNSFlagQueryRD    DNSFlags = 1 << 4
	DNSFlagQueryTC    DNSFlags = 1 << 5
	DNSFlagQueryAA    DNSFlags = 1 << 6
	DNSFlagQueryDO    DNSFlags = 1 << 7
	DNSFlagResponseCD DNSFlags = 1 << 8
	DNSFlagResponseAD DNSFlags = 1 << 9
	DNSFlagResponseZ  DNSFlags = 1 << 10
	DNSFlagResponseRA DNSFlags = 1 << 11
	DNSFlagResponseRD DNSFlags = 1 << 12
	DNSFlagResponseTC DNSFlags = 1 << 13
	DNSFlagResponseAA DNSFlags = 1 << 14
)

// dnsFlagsKnown is the union of all defined DNSFlags bits.
const dnsFlagsKnown DNSFlags = 0b0111_1111_1111_1111

// dnsFlagsResponseShift is the distance between the query and response
// halves of the packed DNS header flags.
const dnsFlagsResponseShift = 8

// Has reports whether all bits of mask are set in f.
func (f DNSFlags) Has(mask DNSFlags) (ok bool) { return f&mask == mask }

// StorageFlags describe attributes of the stored data as a whole.
type StorageFlags uint8

// StorageFlags bits.
const (
	StorageFlagAnonymized      StorageFlags = 1 << 0
	StorageFlagSampled         StorageFlags = 1 << 1
	StorageFlagNormalizedNames StorageFlags = 1 << 2
)

// Has reports whether all bits of mask are set in f.
func (f StorageFlags) Has(mask StorageFlags) (ok bool) { return f&mask == mask }

// ResponseProcessingFlags describe how the response was produced.
type ResponseProcessingFlags uint8

// ResponseProcessingFlags bits.
const (
	ResponseProcessingFromCache ResponseProcessingFlags = 1 << 0
)

// Has reports whether all bits of mask are set in f.
func (f ResponseProcessingFlags) Has(mask ResponseProcessingFlags) (ok bool) { return f&mask == mask }

// QueryResponseType is the kind of transaction a query/response pair
// represents, using the definitions of the dnstap schema.
type QueryResponseType uint8

// QueryResponseType values.
const (
	QRTypeStub          QueryResponseType = 0
	QRTypeClient        QueryResponseType = 1
	QRTypeResolver      QueryResponseType = 2
	QRTypeAuthoritative QueryResponseType = 3
	QRTypeForwarder     QueryResponseType = 4
	QRTypeTool          QueryResponseType = 5
)

// AddressEventType is the network-level event type of an
// [AddressEvent].  The enumeration is open: values unknown to this package
// pass through encoding and decoding unchanged.
type AddressEventType uint

// Known AddressEventType values.
const (
	AddressEventTCPReset              AddressEventType = 0
	AddressEventICMPTimeExceeded      AddressEventType = 1
	AddressEventICMPDestUnreachable   AddressEventType = 2
	AddressEventICMPv6TimeExceeded    AddressEventType = 3
	AddressEventICMPv6DestUnreachable AddressEventType = 4
	AddressEventICMPv6PacketTooBig    AddressEventType = 5
)

// Storage Hints
//
// A hint bit that is unset declares that the producer never collects the
// corresponding field.  This is distinct from the field merely being absent
// on one record: a field can be collected in general and still be missing
// from an individual record.

// QueryResponseHints declare which [QueryResponse] fields the producer
// stores.
type QueryResponseHints uint32

// QueryResponseHints bits.
const (
	QRHintTimeOffset                 QueryResponseHints = 1 << 0
	QRHintClientAddressIndex         QueryResponseHints = 1 << 1
	QRHintClientPort                 QueryResponseHints = 1 << 2
	QRHintTransactionID              QueryResponseHints = 1 << 3
	QRHintSignatureIndex             QueryResponseHints = 1 << 4
	QRHintClientHopLimit             QueryResponseHints = 1 << 5
	QRHintResponseDelay              QueryResponseHints = 1 << 6
	QRHintQueryNameIndex             QueryResponseHints = 1 << 7
	QRHintQuerySize                  QueryResponseHints = 1 << 8
	QRHintResponseSize               QueryResponseHints = 1 << 9
	QRHintResponseProcessing         QueryResponseHints = 1 << 10
	QRHintQueryQuestionSections      QueryResponseHints = 1 << 11
	QRHintQueryAnswerSections        QueryResponseHints = 1 << 12
	QRHintQueryAuthoritySections     QueryResponseHints = 1 << 13
	QRHintQueryAdditionalSections    QueryResponseHints = 1 << 14
	QRHintResponseAnswerSections     QueryResponseHints = 1 << 15
	QRHintResponseAuthoritySections  QueryResponseHints = 1 << 16
	QRHintResponseAdditionalSections QueryResponseHints = 1 << 17
)

// qrHintsAll is the union of all defined QueryResponseHints bits.
const qrHintsAll QueryResponseHints = 1<<18 - 1

// Collected reports whether the producer declared that it stores the fields
// of mask.
func (h QueryResponseHints) Collected(mask QueryResponseHints) (ok bool) { return h&mask == mask }

// QueryResponseSignatureHints declare which [Signature] fields the producer
// stores.
type QueryResponseSignatureHints uint32

// QueryResponseSignatureHints bits.
const (
	SigHintServerAddressIndex  QueryResponseSignatureHints = 1 << 0
	SigHintServerPort          QueryResponseSignatureHints = 1 << 1
	SigHintTransportFlags      QueryResponseSignatureHints = 1 << 2
	SigHintQRType              QueryResponseSignatureHints = 1 << 3
	SigHintFlags               QueryResponseSignatureHints = 1 << 4
	SigHintQueryOpcode         QueryResponseSignatureHints = 1 << 5
	SigHintDNSFlags            QueryResponseSignatureHints = 1 << 6
	SigHintQueryRcode          QueryResponseSignatureHints = 1 << 7
	SigHintQueryClassTypeIndex QueryResponseSignatureHints = 1 << 8
	SigHintQueryQDCount        QueryResponseSignatureHints = 1 << 9
	SigHintQueryANCount        QueryResponseSignatureHints = 1 << 10
	SigHintQueryNSCount        QueryResponseSignatureHints = 1 << 11
	SigHintQueryARCount        QueryResponseSignatureHints = 1 << 12
	SigHintQueryEDNSVersion    QueryResponseSignatureHints = 1 << 13
	SigHintQueryUDPSize        QueryResponseSignatureHints = 1 << 14
	SigHintQueryOptRDataIndex  QueryResponseSignatureHints = 1 << 15
	SigHintResponseRcode       QueryResponseSignatureHints = 1 << 16
)

// sigHintsAll is the union of all defined QueryResponseSignatureHints bits.
const sigHintsAll QueryResponseSignatureHints = 1<<17 - 1

// Collected reports whether the producer declared that it stores the fields
// of mask.
func (h QueryResponseSignatureHints) Collected(mask QueryResponseSignatureHints) (ok bool) {
	return h&mask == mask
}

// RRHints declare which optional [RR] fields the producer stores.
type RRHints uint8

// RRHints bits.
const (
	RRHintTTL        RRHints = 1 << 0
	RRHintRDataIndex RRHints = 1 << 1
)

// rrHintsAll is the union of all defined RRHints bits.
const rrHintsAll RRHints = 1<<2 - 1

// Collected reports whether the producer declared that it stores the fields
// of mask.
func (h RRHints) Collected(mask RRHints) (ok bool) { return h&mask == mask }

// OtherDataHints declare which other record collections the producer stores.
type OtherDataHints uint8

// OtherDataHints bits.
const (
	OtherDataHintMalformedMessages OtherDataHints = 1 << 0
	OtherDataHintAddressEvents     OtherDataHints = 1 << 1
)

// otherDataHintsAll is the union of all defined OtherDataHints bits.
const otherDataHintsAll OtherDataHints = 1<<2 - 1

// Collected reports whether the producer declared that it stores the record
// collections of mask.
func (h OtherDataHints) Collected(mask OtherDataHints) (ok bool) { return h&mask == mask }
