package cborio_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/AdguardTeam/cdns/internal/cborio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArrayHeader(t *testing.T) {
	testCases := []struct {
		name string
		n    uint64
		want []byte
	}{{
		name: "small",
		n:    3,
		want: []byte{0x83},
	}, {
		name: "one_byte_arg",
		n:    100,
		want: []byte{0x98, 100},
	}, {
		name: "two_byte_arg",
		n:    1000,
		want: []byte{0x99, 0x03, 0xe8},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, cborio.WriteArrayHeader(buf, tc.n))

			assert.Equal(t, tc.want, buf.Bytes())
		})
	}
}

func TestItemReader_ReadArrayHeader(t *testing.T) {
	r := cborio.NewItemReader(bytes.NewReader([]byte{0x83}))

	n, indef, err := r.ReadArrayHeader()
	require.NoError(t, err)

	assert.Equal(t, uint64(3), n)
	assert.False(t, indef)

	r = cborio.NewItemReader(bytes.NewReader([]byte{0x9f}))

	_, indef, err = r.ReadArrayHeader()
	require.NoError(t, err)

	assert.True(t, indef)

	// A map where an array is required.
	r = cborio.NewItemReader(bytes.NewReader([]byte{0xa0}))

	_, _, err = r.ReadArrayHeader()
	assert.Error(t, err)
}

func TestItemReader_ReadRaw(t *testing.T) {
	testCases := []struct {
		name string
		in   []byte
	}{{
		name: "uint",
		in:   []byte{0x18, 0x2a},
	}, {
		name: "text",
		in:   []byte{0x65, 'C', '-', 'D', 'N', 'S'},
	}, {
		name: "nested_map",
		// {0: [1, 2], 1: h'ff'}
		in: []byte{0xa2, 0x00, 0x82, 0x01, 0x02, 0x01, 0x41, 0xff},
	}, {
		name: "tagged",
		// 1(1700000000)
		in: []byte{0xc1, 0x1a, 0x65, 0x5d, 0x9e, 0x00},
	}, {
		name: "indefinite_array",
		// [_ 1, 2]
		in: []byte{0x9f, 0x01, 0x02, 0xff},
	}, {
		name: "indefinite_text",
		// (_ "ab", "c")
		in: []byte{0x7f, 0x62, 'a', 'b', 0x61, 'c', 0xff},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := cborio.NewItemReader(bytes.NewReader(tc.in))

			item, err := r.ReadRaw()
			require.NoError(t, err)

			assert.Equal(t, tc.in, item)

			_, err = r.ReadRaw()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestItemReader_ReadRaw_truncated(t *testing.T) {
	testCases := []struct {
		name string
		in   []byte
	}{{
		name: "mid_string",
		in:   []byte{0x65, 'C', '-'},
	}, {
		name: "mid_array",
		in:   []byte{0x83, 0x01},
	}, {
		name: "mid_argument",
		in:   []byte{0x19, 0x03},
	}, {
		name: "unterminated_indefinite",
		in:   []byte{0x9f, 0x01},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := cborio.NewItemReader(bytes.NewReader(tc.in))

			_, err := r.ReadRaw()
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestItemReader_ReadRaw_malformed(t *testing.T) {
	// An indefinite-length uint is not well-formed.
	r := cborio.NewItemReader(bytes.NewReader([]byte{0x1f}))

	_, err := r.ReadRaw()
	assert.Error(t, err)

	// Nesting deeper than the scanner allows.
	deep := bytes.Repeat([]byte{0x81}, 100)
	deep = append(deep, 0x01)

	r = cborio.NewItemReader(bytes.NewReader(deep))

	_, err = r.ReadRaw()
	assert.Error(t, err)
}

func TestItemReader_NextIsBreak(t *testing.T) {
	r := cborio.NewItemReader(bytes.NewReader([]byte{0xff}))

	ok, err := r.NextIsBreak()
	require.NoError(t, err)
	assert.True(t, ok)

	r = cborio.NewItemReader(bytes.NewReader([]byte{0x01}))

	ok, err = r.NextIsBreak()
	require.NoError(t, err)
	assert.False(t, ok)

	// The peeked byte must still be readable.
	item, err := r.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, item)
}

func TestWriteBreak(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, cborio.WriteIndefiniteArrayHeader(buf))
	require.NoError(t, cborio.WriteBreak(buf))

	assert.Equal(t, []byte{0x9f, 0xff}, buf.Bytes())
}
