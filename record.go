package cdns

import (
	"net/netip"
	"time"
)

// Application Records
//
// These are the resolved forms of the wire records: all table indices have
// been replaced by the values they reference, and timestamps are absolute.
// Optional fields are pointers or nil slices; nil means "not present in the
// capture".  Whether an absent field was never collected at all is declared
// by the [StorageHints] of the block's parameters.

// QueryResponse is a single DNS query/response pair, or either half alone.
// Which halves are present is indicated by the signature flags.
type QueryResponse struct {
	// Time is the absolute time of the query, or of the response if there is
	// no query.
	Time *time.Time

	// ClientAddr is the client IP address in network byte order.  It may be
	// shorter than a full address if the storage parameters declare an
	// address prefix length.
	ClientAddr []byte

	// ClientPort is the client transport port.
	ClientPort *uint16

	// TransactionID is the DNS message ID.
	TransactionID *uint16

	// Signature holds the fields that are commonly shared between many
	// query/response pairs.
	Signature *Signature

	// ClientHopLimit is the IPv4 TTL or IPv6 hop limit of the query packet.
	ClientHopLimit *uint8

	// ResponseDelay is the time between query and response.  It can be
	// negative if the capture saw the packets out of order.
	ResponseDelay *time.Duration

	// QueryName is the QNAME of the first question, in uncompressed DNS wire
	// format.
	QueryName []byte

	// QuerySize is the DNS query message size in bytes.
	QuerySize *uint16

	// ResponseSize is the DNS response message size in bytes.
	ResponseSize *uint16

	// ResponseProcessing describes how the response was produced.
	ResponseProcessing *ResponseProcessing

	// QueryExtended holds the stored sections of the query.
	QueryExtended *SectionData

	// ResponseExtended holds the stored sections of the response.
	ResponseExtended *SectionData
}

// Signature holds the elements of a query/response pair that are often
// identical across many pairs and are therefore deduplicated per block.
type Signature struct {
	// ServerAddr is the server IP address in network byte order, possibly
	// prefix-truncated.
	ServerAddr []byte

	// ServerPort is the server transport port.
	ServerPort *uint16

	// TransportFlags describe the transport of the exchange.
	TransportFlags *TransportFlags

	// QRType is the dnstap-style transaction type.
	QRType *QueryResponseType

	// Flags indicate which halves of the pair are present and their shape.
	Flags *QueryResponseFlags

	// QueryOpcode is the DNS OPCODE of the query.
	QueryOpcode *uint8

	// DNSFlags pack the DNS header flags of both halves.
	DNSFlags *DNSFlags

	// QueryRcode is the query RCODE, incorporating any EDNS extended RCODE.
	QueryRcode *uint16

	// QueryClassType is the CLASS and TYPE of the first question.
	QueryClassType *ClassType

	// QueryQDCount is the QDCOUNT of the query, or of the response if there
	// is no query.
	QueryQDCount *uint

	// QueryANCount is the query ANCOUNT.
	QueryANCount *uint

	// QueryNSCount is the query NSCOUNT.
	QueryNSCount *uint

	// QueryARCount is the query ARCOUNT.
	QueryARCount *uint

	// QueryEDNSVersion is the query EDNS version.
	QueryEDNSVersion *uint8

	// QueryUDPSize is the query EDNS sender UDP payload size.
	QueryUDPSize *uint16

	// QueryOptRData is the RDATA of the query OPT record.
	QueryOptRData []byte

	// ResponseRcode is the response RCODE, incorporating any EDNS extended
	// RCODE.
	ResponseRcode *uint16
}

// ResponseProcessing is information on the server processing that produced
// the response.
type ResponseProcessing struct {
	// Bailiwick is the owner name of the response bailiwick in uncompressed
	// DNS wire format.
	Bailiwick []byte

	// Flags are the response processing flags.
	Flags *ResponseProcessingFlags
}

// SectionData holds the stored DNS message sections of one half of a
// query/response pair.
type SectionData struct {
	// Questions are the second and subsequent questions of the question
	// section.  The first question is stored on the pair itself.
	Questions []Question

	// Answers is the answer section.
	Answers []RR

	// Authorities is the authority section.
	Authorities []RR

	// Additionals is the additional section.
	Additionals []RR
}

// Question is a single entry of a DNS question section.
type Question struct {
	// Name is the QNAME in uncompressed DNS wire format.
	Name []byte

	// ClassType is the CLASS and TYPE of the question.
	ClassType ClassType
}

// RR is a single resource record.
type RR struct {
	// Name is the owner name in uncompressed DNS wire format.
	Name []byte

	// ClassType is the CLASS and TYPE of the record.
	ClassType ClassType

	// TTL is the time to live.
	TTL *uint32

	// RData is the record data in DNS wire format, with all names
	// uncompressed.
	RData []byte
}

// AddressEvent is a counted occurrence of one network-level event type for
// one client address.  It is an aggregation record, not one record per
// event.
type AddressEvent struct {
	// Type is the event type.  Unknown values pass through unchanged.
	Type AddressEventType

	// Code is the ICMP or ICMPv6 code for ICMP events; undefined otherwise.
	Code *uint32

	// Addr is the client IP address in network byte order, possibly
	// prefix-truncated.
	Addr []byte

	// TransportFlags describe the transport of the event.
	TransportFlags *TransportFlags

	// Count is the number of occurrences within the block's collection
	// period.  It must be positive.
	Count uint64
}

// MalformedMessage is a capture of a DNS message that failed parsing.
type MalformedMessage struct {
	// Time is the absolute time the message was seen.
	Time *time.Time

	// ClientAddr is the client IP address in network byte order, possibly
	// prefix-truncated.
	ClientAddr []byte

	// ClientPort is the client transport port.
	ClientPort *uint16

	// Data is the shared payload data of the message.
	Data *MalformedMessageData
}

// MalformedMessageData is the deduplicated payload part of malformed
// messages.
type MalformedMessageData struct {
	// ServerAddr is the server IP address in network byte order, possibly
	// prefix-truncated.
	ServerAddr []byte

	// ServerPort is the server transport port.
	ServerPort *uint16

	// TransportFlags describe the transport of the message.
	TransportFlags *TransportFlags

	// Payload is the raw bytes of the DNS message.
	Payload []byte
}

// AddrBytes returns the network-byte-order form of addr for storage in a
// record.  IPv4-mapped IPv6 addresses are unmapped first.  It returns nil if
// addr is not valid.
func AddrBytes(addr netip.Addr) (b []byte) {
	if !addr.IsValid() {
		return nil
	}

	return addr.Unmap().AsSlice()
}

// AddrFromBytes converts the stored form of an address back into a
// [netip.Addr].  Prefix-truncated addresses are zero-padded, with v4
// reporting whether the address should be treated as IPv4.  It returns false
// if b is empty or longer than an IPv6 address.
func AddrFromBytes(b []byte, v4 bool) (addr netip.Addr, ok bool) {
	size := net6AddrLen
	if v4 {
		size = net4AddrLen
	}

	if len(b) == 0 || len(b) > size {
		return netip.Addr{}, false
	}

	buf := make([]byte, size)
	copy(buf, b)

	return netip.AddrFromSlice(buf)
}

// Address lengths in bytes.
const (
	net4AddrLen = 4
	net6AddrLen = 16
)
