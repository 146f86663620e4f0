package cdns_test

import (
	"bytes"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/AdguardTeam/cdns"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	testutil.DiscardLogOutput(m)
}

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// Common addresses for tests, in stored network byte order.
var (
	testClientAddr = []byte{192, 0, 2, 1}
	testServerAddr = []byte{192, 0, 2, 53}
)

// testTime is the common base time for test records.
var testTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// ptrTo returns a pointer to v.
func ptrTo[T any](v T) (p *T) { return &v }

// newTestQueryResponse returns a query/response record n ticks after
// testTime, with enough fields set to exercise all block tables.
func newTestQueryResponse(n int) (qr *cdns.QueryResponse) {
	return &cdns.QueryResponse{
		Time:          ptrTo(testTime.Add(time.Duration(n) * time.Millisecond)),
		ClientAddr:    testClientAddr,
		ClientPort:    ptrTo(uint16(54321)),
		TransactionID: ptrTo(uint16(n)),
		Signature: &cdns.Signature{
			ServerAddr:     testServerAddr,
			ServerPort:     ptrTo(uint16(53)),
			TransportFlags: ptrTo(cdns.NewTransportFlags(false, cdns.TransportUDP)),
			Flags:          ptrTo(cdns.QRFlagHasQuery | cdns.QRFlagHasResponse),
			QueryOpcode:    ptrTo(uint8(0)),
			QueryClassType: &cdns.ClassType{Type: 1, Class: 1},
			QueryRcode:     ptrTo(uint16(0)),
			ResponseRcode:  ptrTo(uint16(0)),
		},
		QueryName:    []byte("\x07example\x03com\x00"),
		QuerySize:    ptrTo(uint16(40)),
		ResponseSize: ptrTo(uint16(120)),
	}
}

// writeTestCapture writes n query/response records through a fresh writer
// and returns the encoded stream.
func writeTestCapture(t *testing.T, n int, params []*cdns.BlockParameters) (data []byte) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	buf := &bytes.Buffer{}

	w, err := cdns.NewWriter(buf, &cdns.WriterConfig{
		Logger:          slogutil.NewDiscardLogger(),
		BlockParameters: params,
	})
	require.NoError(t, err)

	for i := range n {
		err = w.AddQueryResponse(ctx, newTestQueryResponse(i))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close(ctx))

	return buf.Bytes()
}

// writeOneRecord writes qr through a fresh writer with default parameters
// and returns the encoded stream.
func writeOneRecord(t *testing.T, qr *cdns.QueryResponse) (data []byte) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	buf := &bytes.Buffer{}

	w, err := cdns.NewWriter(buf, &cdns.WriterConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, w.AddQueryResponse(ctx, qr))
	require.NoError(t, w.Close(ctx))

	return buf.Bytes()
}

// readTestCapture decodes all blocks of data.
func readTestCapture(t *testing.T, data []byte) (blocks []*cdns.Block) {
	t.Helper()

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	blocks, err := cdns.ReadAll(ctx, bytes.NewReader(data), &cdns.ReaderConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)

	return blocks
}

func TestRoundTrip(t *testing.T) {
	const recNum = 3

	data := writeTestCapture(t, recNum, nil)
	blocks := readTestCapture(t, data)

	require.Len(t, blocks, 1)

	b := blocks[0]
	require.Len(t, b.QueryResponses, recNum)
	require.NotNil(t, b.EarliestTime)

	assert.Equal(t, testTime, *b.EarliestTime)

	for i, got := range b.QueryResponses {
		want := newTestQueryResponse(i)
		assert.Equal(t, want, got, "record at index %d", i)
	}
}

func TestRoundTrip_absentFields(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	buf := &bytes.Buffer{}

	w, err := cdns.NewWriter(buf, &cdns.WriterConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)

	// A record with almost everything absent.  Absent fields must come back
	// as nil, and present zero values must survive as zero, not vanish.
	qr := &cdns.QueryResponse{
		Time:          ptrTo(testTime),
		ClientPort:    ptrTo(uint16(0)),
		TransactionID: ptrTo(uint16(0)),
	}

	require.NoError(t, w.AddQueryResponse(ctx, qr))
	require.NoError(t, w.Close(ctx))

	blocks := readTestCapture(t, buf.Bytes())
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].QueryResponses, 1)

	got := blocks[0].QueryResponses[0]

	require.NotNil(t, got.ClientPort)
	require.NotNil(t, got.TransactionID)

	assert.Equal(t, uint16(0), *got.ClientPort)
	assert.Equal(t, uint16(0), *got.TransactionID)

	assert.Nil(t, got.ClientAddr)
	assert.Nil(t, got.Signature)
	assert.Nil(t, got.QueryName)
	assert.Nil(t, got.QuerySize)
	assert.Nil(t, got.ResponseSize)
	assert.Nil(t, got.ResponseProcessing)
	assert.Nil(t, got.QueryExtended)
	assert.Nil(t, got.ResponseExtended)
}

func TestRoundTrip_otherRecords(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	buf := &bytes.Buffer{}

	w, err := cdns.NewWriter(buf, &cdns.WriterConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)

	ev := &cdns.AddressEvent{
		Type:           cdns.AddressEventTCPReset,
		Addr:           testClientAddr,
		TransportFlags: ptrTo(cdns.NewTransportFlags(false, cdns.TransportTCP)),
		Count:          42,
	}
	require.NoError(t, w.AddAddressEvent(ctx, ev))

	mm := &cdns.MalformedMessage{
		Time:       ptrTo(testTime.Add(time.Second)),
		ClientAddr: testClientAddr,
		ClientPort: ptrTo(uint16(1053)),
		Data: &cdns.MalformedMessageData{
			ServerAddr:     testServerAddr,
			ServerPort:     ptrTo(uint16(53)),
			TransportFlags: ptrTo(cdns.NewTransportFlags(false, cdns.TransportUDP)),
			Payload:        []byte{0xde, 0xad, 0xbe, 0xef},
		},
	}
	require.NoError(t, w.AddMalformedMessage(ctx, mm))

	require.NoError(t, w.Close(ctx))

	blocks := readTestCapture(t, buf.Bytes())
	require.Len(t, blocks, 1)

	b := blocks[0]
	require.Len(t, b.AddressEvents, 1)
	require.Len(t, b.MalformedMessages, 1)

	assert.Equal(t, ev, b.AddressEvents[0])
	assert.Equal(t, mm, b.MalformedMessages[0])

	require.NotNil(t, b.Statistics)
	require.NotNil(t, b.Statistics.MalformedItems)
	assert.Equal(t, uint(1), *b.Statistics.MalformedItems)
}

func TestRoundTrip_nanosecondTicks(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	buf := &bytes.Buffer{}

	params := newTestBlockParameters(100)
	params[0].Storage.TicksPerSecond = uint64(time.Second)

	w, err := cdns.NewWriter(buf, &cdns.WriterConfig{
		Logger:          slogutil.NewDiscardLogger(),
		BlockParameters: params,
	})
	require.NoError(t, err)

	// A time offset of more than a few seconds at nanosecond resolution
	// does not fit into an int64 when converted naively.
	first := newTestQueryResponse(0)
	second := newTestQueryResponse(1)
	second.Time = ptrTo(first.Time.Add(15*time.Second + 123*time.Nanosecond))
	second.ResponseDelay = ptrTo(30 * time.Second)

	require.NoError(t, w.AddQueryResponse(ctx, first))
	require.NoError(t, w.AddQueryResponse(ctx, second))
	require.NoError(t, w.Close(ctx))

	blocks := readTestCapture(t, buf.Bytes())
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].QueryResponses, 2)

	assert.Equal(t, first.Time, blocks[0].QueryResponses[0].Time)
	assert.Equal(t, second.Time, blocks[0].QueryResponses[1].Time)
	assert.Equal(t, second.ResponseDelay, blocks[0].QueryResponses[1].ResponseDelay)
}

func TestReadAll_empty(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	buf := &bytes.Buffer{}

	w, err := cdns.NewWriter(buf, &cdns.WriterConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	blocks := readTestCapture(t, buf.Bytes())
	assert.Empty(t, blocks)
}

func TestAddrBytes(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want []byte
	}{{
		name: "ipv4",
		in:   "192.0.2.1",
		want: []byte{192, 0, 2, 1},
	}, {
		name: "ipv4_mapped",
		in:   "::ffff:192.0.2.1",
		want: []byte{192, 0, 2, 1},
	}, {
		name: "ipv6",
		in:   "2001:db8::1",
		want: []byte{
			0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0x01,
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cdns.AddrBytes(netip.MustParseAddr(tc.in)))
		})
	}
}

func TestAddrFromBytes(t *testing.T) {
	addr, ok := cdns.AddrFromBytes([]byte{192, 0, 2}, true)
	require.True(t, ok)

	assert.Equal(t, "192.0.2.0", addr.String())

	_, ok = cdns.AddrFromBytes(nil, true)
	assert.False(t, ok)

	_, ok = cdns.AddrFromBytes(bytes.Repeat([]byte{0}, 17), false)
	assert.False(t, ok)
}

// errReader is an io.Reader for tests that always fails.
type errReader struct{}

// Read implements the [io.Reader] interface for *errReader.
func (errReader) Read(b []byte) (n int, err error) {
	return 0, io.ErrClosedPipe
}
