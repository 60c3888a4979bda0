package entropy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetRandomNilSource(t *testing.T) {
	random, err := GetRandom(nil, 32)
	require.NoError(t, err)
	require.Len(t, random, 32)

	random2, err := GetRandom(nil, 32)
	require.NoError(t, err)
	require.NotEqual(t, random, random2, "cryptographically insecure PRNG")
}

type fixedSource struct {
	b byte
}

func (s *fixedSource) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = s.b
	}
	return len(p), nil
}

func TestGetRandomCustomSource(t *testing.T) {
	random, err := GetRandom(&fixedSource{b: 0xAB}, 16)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 16), random)
}

type failingSource struct{}

func (failingSource) Read(p []byte) (int, error) {
	return 0, nil // short read, triggers the fallback
}

func TestGetRandomFallsBack(t *testing.T) {
	random, err := GetRandom(failingSource{}, 16)
	require.NoError(t, err)
	require.Len(t, random, 16)
	require.NotEqual(t, make([]byte, 16), random)
}

func TestReader(t *testing.T) {
	r := Reader(&fixedSource{b: 0x01})
	buf := make([]byte, 8)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, bytes.Repeat([]byte{0x01}, 8), buf)

	r = Reader(nil)
	n, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
}

func TestScriptReaderNoPath(t *testing.T) {
	r := NewScriptReader("")
	_, err := r.Read(make([]byte, 4))
	require.Error(t, err)
}
