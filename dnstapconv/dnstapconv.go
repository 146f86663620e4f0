// Package dnstapconv converts dnstap messages into capture records.  It is
// a producer-side bridge: a collector that already receives dnstap frames
// from a server can feed them through this package into a [cdns.Writer].
package dnstapconv

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/cdns"
	dnstap "github.com/dnstap/golang-dnstap"
	"github.com/miekg/dns"
	"google.golang.org/protobuf/proto"
)

// FromFrame decodes one dnstap frame payload, as carried by a frame stream,
// and converts its message.  Frames that carry no message convert to nil
// with no error.
func FromFrame(b []byte) (qr *cdns.QueryResponse, err error) {
	dt := &dnstap.Dnstap{}
	err = proto.Unmarshal(b, dt)
	if err != nil {
		return nil, fmt.Errorf("dnstapconv: decoding frame: %w", err)
	}

	if dt.Message == nil {
		return nil, nil
	}

	return Convert(dt.Message)
}

// Convert builds a capture record from m.  A message half that fails DNS
// parsing is recorded as absent rather than failing the whole record, since
// dnstap taps regularly carry messages the tapped server itself rejected.
func Convert(m *dnstap.Message) (qr *cdns.QueryResponse, err error) {
	query := unpackMsg(m.QueryMessage)
	resp := unpackMsg(m.ResponseMessage)
	if query == nil && resp == nil {
		return nil, fmt.Errorf("dnstapconv: no parsable message in %s", m.GetType())
	}

	meta := &cdns.MsgMeta{
		Transport: transport(m),
		QRType:    qrType(m.GetType()),
	}

	if m.QueryTimeSec != nil {
		meta.QueryTime = time.Unix(
			int64(m.GetQueryTimeSec()),
			int64(m.GetQueryTimeNsec()),
		).UTC()
	}

	if m.ResponseTimeSec != nil {
		meta.ResponseTime = time.Unix(
			int64(m.GetResponseTimeSec()),
			int64(m.GetResponseTimeNsec()),
		).UTC()
	}

	if addr, ok := netip.AddrFromSlice(m.QueryAddress); ok {
		meta.ClientAddr = addr
	}

	if addr, ok := netip.AddrFromSlice(m.ResponseAddress); ok {
		meta.ServerAddr = addr
	}

	if m.QueryPort != nil {
		meta.ClientPort = uint16(m.GetQueryPort())
	}

	if m.ResponsePort != nil {
		meta.ServerPort = uint16(m.GetResponsePort())
	}

	if query != nil {
		meta.QuerySize = uint16(len(m.QueryMessage))
	}

	if resp != nil {
		meta.ResponseSize = uint16(len(m.ResponseMessage))
	}

	return cdns.NewQueryResponse(query, resp, meta)
}

// unpackMsg parses b as a DNS message, returning nil for absent or
// unparsable data.
func unpackMsg(b []byte) (m *dns.Msg) {
	if len(b) == 0 {
		return nil
	}

	m = &dns.Msg{}
	err := m.Unpack(b)
	if err != nil {
		return nil
	}

	return m
}

// transport maps the dnstap socket protocol onto a capture transport.
func transport(m *dnstap.Message) (t cdns.Transport) {
	switch m.GetSocketProtocol() {
	case dnstap.SocketProtocol_UDP:
		return cdns.TransportUDP
	case dnstap.SocketProtocol_TCP:
		return cdns.TransportTCP
	case dnstap.SocketProtocol_DOT:
		return cdns.TransportTLS
	case dnstap.SocketProtocol_DOH:
		return cdns.TransportHTTPS
	default:
		return cdns.TransportNonStandard
	}
}

// qrType maps the dnstap message type onto a capture transaction type.  Nil
// means the type carries no equivalent.
func qrType(t dnstap.Message_Type) (qt *cdns.QueryResponseType) {
	p := func(v cdns.QueryResponseType) (res *cdns.QueryResponseType) { return &v }

	switch t {
	case dnstap.Message_STUB_QUERY, dnstap.Message_STUB_RESPONSE:
		return p(cdns.QRTypeStub)
	case dnstap.Message_CLIENT_QUERY, dnstap.Message_CLIENT_RESPONSE:
		return p(cdns.QRTypeClient)
	case dnstap.Message_RESOLVER_QUERY, dnstap.Message_RESOLVER_RESPONSE:
		return p(cdns.QRTypeResolver)
	case dnstap.Message_AUTH_QUERY, dnstap.Message_AUTH_RESPONSE:
		return p(cdns.QRTypeAuthoritative)
	case dnstap.Message_FORWARDER_QUERY, dnstap.Message_FORWARDER_RESPONSE:
		return p(cdns.QRTypeForwarder)
	case dnstap.Message_TOOL_QUERY, dnstap.Message_TOOL_RESPONSE:
		return p(cdns.QRTypeTool)
	default:
		return nil
	}
}
