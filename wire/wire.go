// Package wire implements the fixed binary framing used by every byte string
// that leaves the process: little-endian unsigned 64-bit length prefixes
// followed by raw bytes, and fixed-width field and group elements. Two nodes
// encoding the same value must produce the same bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxSliceLen caps any length prefix read from the network. Messages in this
// protocol carry at most a few kilobytes per element.
const MaxSliceLen = 1 << 20

var errLengthPrefix = errors.New("wire: length prefix exceeds maximum")

// WriteUint64 writes v as 8 little-endian bytes.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads 8 little-endian bytes.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteBytes writes a length-prefixed byte string.
func WriteBytes(w io.Writer, b []byte) error {
	if err := WriteUint64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads a length-prefixed byte string.
func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	if n > MaxSliceLen {
		return nil, errLengthPrefix
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteBytesSlice writes a count-prefixed sequence of length-prefixed byte
// strings.
func WriteBytesSlice(w io.Writer, bs [][]byte) error {
	if err := WriteUint64(w, uint64(len(bs))); err != nil {
		return err
	}
	for _, b := range bs {
		if err := WriteBytes(w, b); err != nil {
			return err
		}
	}
	return nil
}

// ReadBytesSlice reads a count-prefixed sequence of length-prefixed byte
// strings.
func ReadBytesSlice(r io.Reader) ([][]byte, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	if n > MaxSliceLen {
		return nil, errLengthPrefix
	}
	bs := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		b, err := ReadBytes(r)
		if err != nil {
			return nil, fmt.Errorf("wire: element %d: %w", i, err)
		}
		bs = append(bs, b)
	}
	return bs, nil
}

// ExpectEOF returns an error if r still holds unread bytes. Decoders use it to
// reject trailing garbage.
func ExpectEOF(r io.Reader) error {
	var one [1]byte
	if n, _ := r.Read(one[:]); n != 0 {
		return errors.New("wire: trailing bytes after message")
	}
	return nil
}
