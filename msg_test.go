package cdns_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/cdns"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMsgPair returns a parsed A query and its response for
// test.example.
func newTestMsgPair(tb testing.TB) (query, resp *dns.Msg) {
	tb.Helper()

	query = &dns.Msg{}
	query.SetQuestion("test.example.", dns.TypeA)
	query.Id = 0x1234
	query.SetEdns0(1232, true)

	resp = &dns.Msg{}
	resp.SetReply(query)
	resp.Authoritative = true

	rr, err := dns.NewRR("test.example. 300 IN A 192.0.2.10")
	require.NoError(tb, err)

	resp.Answer = append(resp.Answer, rr)

	return query, resp
}

// newTestMsgMeta returns exchange metadata matching newTestMsgPair.
func newTestMsgMeta() (meta *cdns.MsgMeta) {
	return &cdns.MsgMeta{
		QueryTime:    testTime,
		ResponseTime: testTime.Add(3 * time.Millisecond),
		ClientAddr:   netip.MustParseAddr("192.0.2.1"),
		ServerAddr:   netip.MustParseAddr("192.0.2.53"),
		ClientPort:   54321,
		ServerPort:   53,
		QuerySize:    52,
		ResponseSize: 68,
		Transport:    cdns.TransportUDP,
	}
}

func TestNewQueryResponse(t *testing.T) {
	query, resp := newTestMsgPair(t)

	qr, err := cdns.NewQueryResponse(query, resp, newTestMsgMeta())
	require.NoError(t, err)

	require.NotNil(t, qr.Time)
	assert.Equal(t, testTime, *qr.Time)

	require.NotNil(t, qr.ResponseDelay)
	assert.Equal(t, 3*time.Millisecond, *qr.ResponseDelay)

	assert.Equal(t, testClientAddr, qr.ClientAddr)

	require.NotNil(t, qr.TransactionID)
	assert.Equal(t, uint16(0x1234), *qr.TransactionID)

	assert.Equal(t, []byte("\x04test\x07example\x00"), qr.QueryName)

	sig := qr.Signature
	require.NotNil(t, sig)

	assert.Equal(t, testServerAddr, sig.ServerAddr)

	require.NotNil(t, sig.Flags)
	wantFlags := cdns.QRFlagHasQuery | cdns.QRFlagHasResponse | cdns.QRFlagQueryHasOPT
	assert.Equal(t, wantFlags, *sig.Flags)

	require.NotNil(t, sig.QueryClassType)
	assert.Equal(t, cdns.ClassType{Type: dns.TypeA, Class: dns.ClassINET}, *sig.QueryClassType)

	require.NotNil(t, sig.DNSFlags)
	assert.True(t, sig.DNSFlags.Has(cdns.DNSFlagQueryRD))
	assert.True(t, sig.DNSFlags.Has(cdns.DNSFlagQueryDO))
	assert.True(t, sig.DNSFlags.Has(cdns.DNSFlagResponseAA))

	require.NotNil(t, sig.QueryEDNSVersion)
	assert.Equal(t, uint8(0), *sig.QueryEDNSVersion)

	require.NotNil(t, sig.QueryUDPSize)
	assert.Equal(t, uint16(1232), *sig.QueryUDPSize)

	require.NotNil(t, sig.TransportFlags)
	assert.False(t, sig.TransportFlags.IsIPv6())
	assert.Equal(t, cdns.TransportUDP, sig.TransportFlags.Transport())

	// The answer goes into the response sections.
	require.NotNil(t, qr.ResponseExtended)
	require.Len(t, qr.ResponseExtended.Answers, 1)

	ans := qr.ResponseExtended.Answers[0]
	assert.Equal(t, []byte("\x04test\x07example\x00"), ans.Name)
	assert.Equal(t, cdns.ClassType{Type: dns.TypeA, Class: dns.ClassINET}, ans.ClassType)

	require.NotNil(t, ans.TTL)
	assert.Equal(t, uint32(300), *ans.TTL)

	assert.Equal(t, []byte{192, 0, 2, 10}, ans.RData)
}

func TestNewQueryResponse_halves(t *testing.T) {
	query, resp := newTestMsgPair(t)

	t.Run("query_only", func(t *testing.T) {
		qr, err := cdns.NewQueryResponse(query, nil, newTestMsgMeta())
		require.NoError(t, err)

		require.NotNil(t, qr.Signature)
		require.NotNil(t, qr.Signature.Flags)

		assert.False(t, qr.Signature.Flags.Has(cdns.QRFlagHasResponse))
		assert.Nil(t, qr.ResponseExtended)
		assert.Nil(t, qr.ResponseDelay)
	})

	t.Run("response_only", func(t *testing.T) {
		qr, err := cdns.NewQueryResponse(nil, resp, newTestMsgMeta())
		require.NoError(t, err)

		require.NotNil(t, qr.Signature)
		require.NotNil(t, qr.Signature.Flags)

		assert.False(t, qr.Signature.Flags.Has(cdns.QRFlagHasQuery))
		assert.Nil(t, qr.Signature.QueryEDNSVersion)
	})

	t.Run("none", func(t *testing.T) {
		_, err := cdns.NewQueryResponse(nil, nil, newTestMsgMeta())
		assert.Error(t, err)
	})
}

func TestNewQueryResponse_roundTrip(t *testing.T) {
	query, resp := newTestMsgPair(t)

	qr, err := cdns.NewQueryResponse(query, resp, newTestMsgMeta())
	require.NoError(t, err)

	data := writeOneRecord(t, qr)
	blocks := readTestCapture(t, data)

	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].QueryResponses, 1)

	assert.Equal(t, qr, blocks[0].QueryResponses[0])
}
