package dkg

import (
	"sort"

	"github.com/drand/kyber"

	"github.com/keyshard/keyshard/crypto"
)

// proposal tracks a single proposer's secret sharing process: the commitment
// it is bound to, the verified values received via Acks, and the set of nodes
// that acked. Entries only grow; nothing is ever removed or overwritten.
type proposal struct {
	// commit is the proposer's commitment, fixed by its first Part.
	commit *crypto.BivarCommitment
	// values maps an acker's evaluation point (index+1) to the verified
	// scalar it sent us.
	values map[uint64]kyber.Scalar
	// acks is the set of node indices that acked this Part, verified or not.
	acks map[uint32]struct{}
}

func newProposal(commit *crypto.BivarCommitment) *proposal {
	return &proposal{
		commit: commit,
		values: make(map[uint64]kyber.Scalar),
		acks:   make(map[uint32]struct{}),
	}
}

// acked reports whether the node already acked.
func (p *proposal) acked(sender uint32) bool {
	_, ok := p.acks[sender]
	return ok
}

// complete returns true if at least threshold+1 nodes have acked.
func (p *proposal) complete(threshold int) bool {
	return len(p.acks) > threshold
}

// samples returns the verified values as interpolation samples in ascending
// order of evaluation point.
func (p *proposal) samples() []*crypto.Sample {
	xs := make([]uint64, 0, len(p.values))
	for x := range p.values {
		xs = append(xs, x)
	}
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	out := make([]*crypto.Sample, len(xs))
	for i, x := range xs {
		out[i] = &crypto.Sample{X: x, Y: p.values[x]}
	}
	return out
}
