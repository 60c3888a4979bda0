package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 0))
	require.NoError(t, WriteUint64(&buf, 1<<40))
	r := bytes.NewReader(buf.Bytes())
	v, err := ReadUint64(r)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
	v, err = ReadUint64(r)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), v)
}

func TestUint64LittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 0x0102030405060708))
	require.Equal(t, []byte{8, 7, 6, 5, 4, 3, 2, 1}, buf.Bytes())
}

func TestBytesRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBytes(&buf, []byte("payload")))
	require.NoError(t, WriteBytes(&buf, nil))
	r := bytes.NewReader(buf.Bytes())
	b, err := ReadBytes(r)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), b)
	b, err = ReadBytes(r)
	require.NoError(t, err)
	require.Empty(t, b)
	require.NoError(t, ExpectEOF(r))
}

func TestBytesSliceRoundTrip(t *testing.T) {
	in := [][]byte{[]byte("a"), nil, []byte("ccc")}
	var buf bytes.Buffer
	require.NoError(t, WriteBytesSlice(&buf, in))
	r := bytes.NewReader(buf.Bytes())
	out, err := ReadBytesSlice(r)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, []byte("a"), out[0])
	require.Empty(t, out[1])
	require.Equal(t, []byte("ccc"), out[2])
}

func TestRejectsHugeLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint64(&buf, 1<<40))
	_, err := ReadBytes(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
	_, err = ReadBytesSlice(bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}

func TestExpectEOF(t *testing.T) {
	r := bytes.NewReader([]byte{1})
	require.Error(t, ExpectEOF(r))
	require.NoError(t, ExpectEOF(bytes.NewReader(nil)))
}

func TestTruncatedInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBytes(&buf, []byte("payload")))
	trunc := buf.Bytes()[:buf.Len()-2]
	_, err := ReadBytes(bytes.NewReader(trunc))
	require.Error(t, err)
}
