package dkg

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/keyshard/keyshard/crypto"
	"github.com/keyshard/keyshard/wire"
)

// Part is a proposer's submission to the key generation. It must be multicast
// to all nodes and handled by all of them, including the proposer itself. It
// carries the commitment to the proposer's bivariate polynomial and, for each
// node, that node's row of the polynomial encrypted to its long-term key. A
// Part that collects enough Acks becomes one summand of the final key set.
type Part struct {
	Commitment *crypto.BivarCommitment
	Rows       [][]byte
}

func (p *Part) String() string {
	return fmt.Sprintf("Part{degree %d, %d rows}", p.Commitment.Degree(), len(p.Rows))
}

// Equal reports whether both Parts carry the same commitment and ciphertexts.
func (p *Part) Equal(other *Part) bool {
	if !p.Commitment.Equal(other.Commitment) || len(p.Rows) != len(other.Rows) {
		return false
	}
	for i := range p.Rows {
		if !bytes.Equal(p.Rows[i], other.Rows[i]) {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the Part canonically: the commitment followed by the
// count-prefixed row ciphertexts.
func (p *Part) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	cb, err := p.Commitment.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf.Write(cb)
	if err := wire.WriteBytesSlice(&buf, p.Rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalPart decodes a Part for the given scheme.
func UnmarshalPart(scheme *crypto.Scheme, data []byte) (*Part, error) {
	r := bytes.NewReader(data)
	commit, err := crypto.UnmarshalBivarCommitment(scheme.KeyGroup, r)
	if err != nil {
		return nil, fmt.Errorf("dkg: part commitment: %w", err)
	}
	rows, err := wire.ReadBytesSlice(r)
	if err != nil {
		return nil, fmt.Errorf("dkg: part rows: %w", err)
	}
	if err := wire.ExpectEOF(r); err != nil {
		return nil, err
	}
	return &Part{Commitment: commit, Rows: rows}, nil
}

// Ack is a node's confirmation that it received and verified a proposer's
// Part. It must be multicast to all nodes and handled by all of them,
// including the node that produced it. For each node it carries one encrypted
// evaluation of the verified row at that node's point.
type Ack struct {
	Proposer uint32
	Values   [][]byte
}

func (a *Ack) String() string {
	return fmt.Sprintf("Ack{proposer %d, %d values}", a.Proposer, len(a.Values))
}

// MarshalBinary encodes the Ack canonically: the proposer index followed by
// the count-prefixed value ciphertexts.
func (a *Ack) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteUint64(&buf, uint64(a.Proposer)); err != nil {
		return nil, err
	}
	if err := wire.WriteBytesSlice(&buf, a.Values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalAck decodes an Ack.
func UnmarshalAck(data []byte) (*Ack, error) {
	r := bytes.NewReader(data)
	proposer, err := wire.ReadUint64(r)
	if err != nil {
		return nil, fmt.Errorf("dkg: ack proposer: %w", err)
	}
	if proposer > wire.MaxSliceLen {
		return nil, errors.New("dkg: ack proposer index out of range")
	}
	values, err := wire.ReadBytesSlice(r)
	if err != nil {
		return nil, fmt.Errorf("dkg: ack values: %w", err)
	}
	if err := wire.ExpectEOF(r); err != nil {
		return nil, err
	}
	return &Ack{Proposer: uint32(proposer), Values: values}, nil
}
