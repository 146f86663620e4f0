package cdns_test

import (
	"testing"

	"github.com/AdguardTeam/cdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportFlags(t *testing.T) {
	testCases := []struct {
		name string
		ipv6 bool
		tr   cdns.Transport
	}{{
		name: "udp_v4",
		ipv6: false,
		tr:   cdns.TransportUDP,
	}, {
		name: "tcp_v6",
		ipv6: true,
		tr:   cdns.TransportTCP,
	}, {
		name: "https_v6",
		ipv6: true,
		tr:   cdns.TransportHTTPS,
	}, {
		name: "non_standard",
		ipv6: false,
		tr:   cdns.TransportNonStandard,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := cdns.NewTransportFlags(tc.ipv6, tc.tr)

			assert.Equal(t, tc.ipv6, f.IsIPv6())
			assert.Equal(t, tc.tr, f.Transport())
		})
	}
}

func TestTransportFlags_bits(t *testing.T) {
	// TCP over IPv6 per the RFC bit layout: version bit plus transport 1 in
	// bits 1-4.
	f := cdns.NewTransportFlags(true, cdns.TransportTCP)
	assert.Equal(t, cdns.TransportFlags(0b0000_0011), f)

	f = cdns.NewTransportFlags(false, cdns.TransportHTTPS)
	assert.Equal(t, cdns.TransportFlags(0b0000_1000), f)
}

func TestDNSFlags_Has(t *testing.T) {
	f := cdns.DNSFlagQueryRD | cdns.DNSFlagResponseRA

	assert.True(t, f.Has(cdns.DNSFlagQueryRD))
	assert.True(t, f.Has(cdns.DNSFlagQueryRD|cdns.DNSFlagResponseRA))
	assert.False(t, f.Has(cdns.DNSFlagQueryAA))
}

func TestQueryResponseHints_Collected(t *testing.T) {
	h := cdns.QRHintTimeOffset | cdns.QRHintClientAddressIndex

	assert.True(t, h.Collected(cdns.QRHintTimeOffset))
	assert.False(t, h.Collected(cdns.QRHintResponseDelay))
}

func TestDecode_unknownFlagBits(t *testing.T) {
	// A file written by a newer producer may set flag bits this package does
	// not define.  They must survive decoding untouched.
	const futureFlags = 0b1100_0001

	block := map[int]any{
		0: map[int]any{0: []any{1705320000, 0}},
		2: map[int]any{
			3: []any{map[int]any{2: futureFlags}},
		},
		3: []any{map[int]any{0: 0, 4: 0}},
	}

	data := encodeTestFile(t, "C-DNS", testFilePreamble(), []any{block})
	blocks := readTestCapture(t, data)

	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].QueryResponses, 1)

	sig := blocks[0].QueryResponses[0].Signature
	require.NotNil(t, sig)
	require.NotNil(t, sig.TransportFlags)

	assert.Equal(t, cdns.TransportFlags(futureFlags), *sig.TransportFlags)
}
