package cdns

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// rrHeaderLen is the size in bytes of the fixed part of a resource record
// header following the owner name: TYPE, CLASS, TTL, and RDLENGTH.
const rrHeaderLen = 10

// MsgMeta is the capture metadata of one query/response exchange that a DNS
// message itself does not carry.
type MsgMeta struct {
	// QueryTime is the time the query was seen.  The zero value means the
	// query time is unknown.
	QueryTime time.Time

	// ResponseTime is the time the response was seen.  The zero value means
	// the response time is unknown.
	ResponseTime time.Time

	// ClientAddr is the client address of the exchange.
	ClientAddr netip.Addr

	// ServerAddr is the server address of the exchange.
	ServerAddr netip.Addr

	// ClientPort is the client transport port.
	ClientPort uint16

	// ServerPort is the server transport port.
	ServerPort uint16

	// QuerySize is the size of the query message on the wire, in bytes.
	// Zero means unknown.
	QuerySize uint16

	// ResponseSize is the size of the response message on the wire, in
	// bytes.  Zero means unknown.
	ResponseSize uint16

	// Transport is the transport the exchange used.
	Transport Transport

	// QRType is the type of the transaction, if known.
	QRType *QueryResponseType
}

// NewQueryResponse builds a capture record from a parsed query and response.
// Either message may be nil for an unmatched half, but not both.  meta must
// not be nil.
func NewQueryResponse(query, resp *dns.Msg, meta *MsgMeta) (qr *QueryResponse, err error) {
	if query == nil && resp == nil {
		return nil, fmt.Errorf("cdns: nil query and response")
	}

	qr = &QueryResponse{
		ClientAddr: AddrBytes(meta.ClientAddr),
	}

	if meta.ClientPort != 0 {
		qr.ClientPort = ptrTo(meta.ClientPort)
	}

	if t := earliestMsgTime(meta); t != nil {
		qr.Time = t
	}

	if query != nil && resp != nil && !meta.QueryTime.IsZero() && !meta.ResponseTime.IsZero() {
		qr.ResponseDelay = ptrTo(meta.ResponseTime.Sub(meta.QueryTime))
	}

	if meta.QuerySize != 0 {
		qr.QuerySize = ptrTo(meta.QuerySize)
	}

	if meta.ResponseSize != 0 {
		qr.ResponseSize = ptrTo(meta.ResponseSize)
	}

	first := query
	if first == nil {
		first = resp
	}

	qr.TransactionID = ptrTo(first.Id)

	if len(first.Question) > 0 {
		qr.QueryName, err = packName(first.Question[0].Name)
		if err != nil {
			return nil, fmt.Errorf("cdns: packing query name: %w", err)
		}
	}

	qr.Signature, err = newSignature(query, resp, meta)
	if err != nil {
		return nil, err
	}

	qr.QueryExtended, err = sectionData(query, true)
	if err != nil {
		return nil, fmt.Errorf("cdns: query sections: %w", err)
	}

	qr.ResponseExtended, err = sectionData(resp, false)
	if err != nil {
		return nil, fmt.Errorf("cdns: response sections: %w", err)
	}

	return qr, nil
}

// earliestMsgTime returns the record time for the exchange: the query time,
// or the response time when there is no query time.
func earliestMsgTime(meta *MsgMeta) (t *time.Time) {
	switch {
	case !meta.QueryTime.IsZero():
		return ptrTo(meta.QueryTime)
	case !meta.ResponseTime.IsZero():
		return ptrTo(meta.ResponseTime)
	default:
		return nil
	}
}

// newSignature builds the signature of the exchange.
func newSignature(query, resp *dns.Msg, meta *MsgMeta) (sig *Signature, err error) {
	sig = &Signature{
		ServerAddr:     AddrBytes(meta.ServerAddr),
		TransportFlags: ptrTo(NewTransportFlags(isV6(meta), meta.Transport)),
		QRType:         meta.QRType,
		Flags:          ptrTo(signatureFlags(query, resp)),
		DNSFlags:       ptrTo(msgDNSFlags(query, resp)),
	}

	if meta.ServerPort != 0 {
		sig.ServerPort = ptrTo(meta.ServerPort)
	}

	first := query
	if first == nil {
		first = resp
	}

	// #nosec G115 -- Opcode is a 4-bit field.
	sig.QueryOpcode = ptrTo(uint8(first.Opcode))

	sig.QueryQDCount = ptrTo(uint(len(first.Question)))
	if query != nil {
		sig.QueryANCount = ptrTo(uint(len(query.Answer)))
		sig.QueryNSCount = ptrTo(uint(len(query.Ns)))
		sig.QueryARCount = ptrTo(uint(len(query.Extra)))
	}

	if len(first.Question) > 0 {
		q := first.Question[0]
		sig.QueryClassType = &ClassType{
			Type:  q.Qtype,
			Class: q.Qclass,
		}
	}

	if query != nil {
		sig.QueryRcode = ptrTo(extendedRcode(query))
		err = addQueryOpt(sig, query)
		if err != nil {
			return nil, err
		}
	}

	if resp != nil {
		sig.ResponseRcode = ptrTo(extendedRcode(resp))
	}

	return sig, nil
}

// addQueryOpt fills the EDNS fields of sig from the OPT record of query, if
// any.
func addQueryOpt(sig *Signature, query *dns.Msg) (err error) {
	opt := query.IsEdns0()
	if opt == nil {
		return nil
	}

	sig.QueryEDNSVersion = ptrTo(opt.Version())
	sig.QueryUDPSize = ptrTo(opt.UDPSize())

	sig.QueryOptRData, err = rrRData(opt)
	if err != nil {
		return fmt.Errorf("cdns: packing opt rdata: %w", err)
	}

	return nil
}

// isV6 reports whether the exchange is over IPv6, judged by the client
// address with the server address as fallback.
func isV6(meta *MsgMeta) (ok bool) {
	addr := meta.ClientAddr
	if !addr.IsValid() {
		addr = meta.ServerAddr
	}

	return addr.IsValid() && !addr.Unmap().Is4()
}

// signatureFlags computes the query/response presence flags of the
// exchange.
func signatureFlags(query, resp *dns.Msg) (f QueryResponseFlags) {
	if query != nil {
		f |= QRFlagHasQuery
		if query.IsEdns0() != nil {
			f |= QRFlagQueryHasOPT
		}

		if len(query.Question) == 0 {
			f |= QRFlagQueryHasNoQuestion
		}
	}

	if resp != nil {
		f |= QRFlagHasResponse
		if resp.IsEdns0() != nil {
			f |= QRFlagResponseHasOPT
		}

		if len(resp.Question) == 0 {
			f |= QRFlagResponseHasNoQuestion
		}
	}

	return f
}

// msgDNSFlags packs the DNS header flags of both halves of the exchange.
func msgDNSFlags(query, resp *dns.Msg) (f DNSFlags) {
	if query != nil {
		f |= headerFlags(query, false)
		if opt := query.IsEdns0(); opt != nil && opt.Do() {
			f |= DNSFlagQueryDO
		}
	}

	if resp != nil {
		f |= headerFlags(resp, true)
	}

	return f
}

// headerFlags converts the header flag booleans of m into the packed form,
// shifted into the response half when isResp is true.
func headerFlags(m *dns.Msg, isResp bool) (f DNSFlags) {
	set := func(on bool, qBit DNSFlags) {
		if !on {
			return
		}

		if isResp {
			qBit <<= dnsFlagsResponseShift
		}

		f |= qBit
	}

	set(m.CheckingDisabled, DNSFlagQueryCD)
	set(m.AuthenticatedData, DNSFlagQueryAD)
	set(m.Zero, DNSFlagQueryZ)
	set(m.RecursionAvailable, DNSFlagQueryRA)
	set(m.RecursionDesired, DNSFlagQueryRD)
	set(m.Truncated, DNSFlagQueryTC)
	set(m.Authoritative, DNSFlagQueryAA)

	return f
}

// extendedRcode returns the RCODE of m incorporating the EDNS extended
// RCODE bits, if any.
func extendedRcode(m *dns.Msg) (rcode uint16) {
	// #nosec G115 -- Rcode is a 4-bit field.
	rcode = uint16(m.Rcode)
	if opt := m.IsEdns0(); opt != nil {
		rcode |= uint16(opt.Hdr.Ttl>>24) << 4
	}

	return rcode
}

// sectionData extracts the stored sections of m.  For a query, the first
// question lives on the pair itself, so only questions past the first are
// stored.  Nil is returned when nothing needs storing.
func sectionData(m *dns.Msg, isQuery bool) (sd *SectionData, err error) {
	if m == nil {
		return nil, nil
	}

	sd = &SectionData{}

	questions := m.Question
	if isQuery && len(questions) > 0 {
		questions = questions[1:]
	}

	for _, q := range questions {
		name, err := packName(q.Name)
		if err != nil {
			return nil, fmt.Errorf("packing question name: %w", err)
		}

		sd.Questions = append(sd.Questions, Question{
			Name: name,
			ClassType: ClassType{
				Type:  q.Qtype,
				Class: q.Qclass,
			},
		})
	}

	sd.Answers, err = rrSlice(m.Answer)
	if err != nil {
		return nil, fmt.Errorf("answer section: %w", err)
	}

	sd.Authorities, err = rrSlice(m.Ns)
	if err != nil {
		return nil, fmt.Errorf("authority section: %w", err)
	}

	sd.Additionals, err = rrSlice(m.Extra)
	if err != nil {
		return nil, fmt.Errorf("additional section: %w", err)
	}

	if len(sd.Questions) == 0 && len(sd.Answers) == 0 &&
		len(sd.Authorities) == 0 && len(sd.Additionals) == 0 {
		return nil, nil
	}

	return sd, nil
}

// rrSlice converts a DNS message section.
func rrSlice(rrs []dns.RR) (res []RR, err error) {
	for _, rr := range rrs {
		hdr := rr.Header()

		name, err := packName(hdr.Name)
		if err != nil {
			return nil, fmt.Errorf("packing owner name: %w", err)
		}

		rdata, err := rrRData(rr)
		if err != nil {
			return nil, fmt.Errorf("packing rdata: %w", err)
		}

		res = append(res, RR{
			Name: name,
			ClassType: ClassType{
				Type:  hdr.Rrtype,
				Class: hdr.Class,
			},
			TTL:   ptrTo(hdr.Ttl),
			RData: rdata,
		})
	}

	return res, nil
}

// packName converts name into uncompressed DNS wire format.
func packName(name string) (b []byte, err error) {
	buf := make([]byte, len(name)+2)

	off, err := dns.PackDomainName(dns.Fqdn(name), buf, 0, nil, false)
	if err != nil {
		return nil, err
	}

	return buf[:off], nil
}

// rrRData packs rr and returns its RDATA in wire format with names
// uncompressed.
func rrRData(rr dns.RR) (b []byte, err error) {
	buf := make([]byte, dns.Len(rr))

	off, err := dns.PackRR(rr, buf, 0, nil, false)
	if err != nil {
		return nil, err
	}

	// PackRR with compression off writes the owner name in full, so the
	// rdata starts right after the packed name and the fixed header part.
	name, err := packName(rr.Header().Name)
	if err != nil {
		return nil, err
	}

	start := len(name) + rrHeaderLen
	if start > off {
		return nil, fmt.Errorf("rdata offset %d past record end %d", start, off)
	}

	return buf[start:off], nil
}
