// Package dkg implements a synchronous dealerless distributed key generation
// for a threshold BLS signature scheme. Every participant broadcasts one Part
// carrying a committed bivariate polynomial with encrypted rows, every
// participant acknowledges every valid Part with encrypted row evaluations,
// and once more than threshold proposals have collected more than threshold
// Acks each, every validator derives its secret key share and all nodes
// derive the same public key set.
//
// The protocol requires that all nodes handle the exact same sequence of
// messages: Parts and Acks are fed in one agreed order, and a node's own
// messages are fed back into its own Generator like everyone else's.
package dkg

import (
	"fmt"
	"io"
	"sort"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/keyshard/keyshard/crypto"
	"github.com/keyshard/keyshard/ecies"
	"github.com/keyshard/keyshard/entropy"
	"github.com/keyshard/keyshard/key"
)

// Cipher encrypts protocol payloads to a participant's long-term public key
// and decrypts payloads addressed to us. Any asymmetric scheme producing
// opaque byte ciphertexts can be plugged in.
type Cipher interface {
	Encrypt(public kyber.Point, msg []byte, rng io.Reader) ([]byte, error)
	Decrypt(private kyber.Scalar, ct []byte) ([]byte, error)
}

type eciesCipher struct {
	g kyber.Group
}

// NewECIESCipher returns the default Cipher: ECIES over the given group.
func NewECIESCipher(g kyber.Group) Cipher {
	return &eciesCipher{g: g}
}

func (c *eciesCipher) Encrypt(public kyber.Point, msg []byte, rng io.Reader) ([]byte, error) {
	return ecies.Encrypt(c.g, nil, public, msg, rng)
}

func (c *eciesCipher) Decrypt(private kyber.Scalar, ct []byte) ([]byte, error) {
	return ecies.Decrypt(c.g, nil, private, ct)
}

// PartOutcome is the result of handling and verifying a Part message.
// Exactly one of the cases holds: Ack is set and must be multicast; Fault is
// set and blames the proposer; both are nil for a well-formed no-op (we are
// an observer, or the same Part was already handled).
type PartOutcome struct {
	Ack   *Ack
	Fault *PartFault
}

// Valid reports whether the Part did not prove its proposer faulty.
func (o *PartOutcome) Valid() bool {
	return o.Fault == nil
}

// AckOutcome is the result of handling and verifying an Ack message. Fault is
// nil when the Ack was well-formed (or a duplicate no-op).
type AckOutcome struct {
	Fault *AckFault
}

// Valid reports whether the Ack did not prove its sender faulty.
func (o *AckOutcome) Valid() bool {
	return o.Fault == nil
}

// Generator is the per-participant state machine of one key generation run.
// It is a purely synchronous in-memory object: no operation blocks or
// performs I/O, and it must be driven by a single goroutine (or under
// external mutual exclusion).
//
// A Generator whose own address is absent from the roster is an observer: it
// tracks commitments and derives the public key set, but holds no row, emits
// no messages and receives no share.
type Generator struct {
	ownAddr   string
	ownIdx    int // -1 for an observer
	ownKey    kyber.Scalar
	roster    *key.Roster
	threshold int
	cipher    Cipher
	proposals map[uint32]*proposal
}

// Option configures a Generator at construction.
type Option func(*Generator)

// WithCipher replaces the default ECIES cipher.
func WithCipher(c Cipher) Option {
	return func(g *Generator) { g.cipher = c }
}

// NewGenerator creates a Generator together with the Part message that must
// be multicast to all nodes. If the pair's address is not in the roster the
// node is only an observer, no Part is produced and no messages need to be
// sent. All randomness, for the polynomial as well as for the row
// encryptions, is read from rng; a nil rng uses the operating system's
// generator.
func NewGenerator(pair *key.Pair, roster *key.Roster, threshold int, rng io.Reader, opts ...Option) (*Generator, *Part, error) {
	if threshold < 0 || threshold >= roster.Len() {
		return nil, nil, fmt.Errorf("dkg: creation: threshold %d out of range for %d nodes", threshold, roster.Len())
	}
	if rng == nil {
		rng = entropy.Reader(nil)
	}
	ownIdx := -1
	if i, ok := roster.Index(pair.Public.Addr); ok {
		ownIdx = i
	}
	gen := &Generator{
		ownAddr:   pair.Public.Addr,
		ownIdx:    ownIdx,
		ownKey:    pair.Key,
		roster:    roster,
		threshold: threshold,
		cipher:    NewECIESCipher(roster.Scheme().KeyGroup),
		proposals: make(map[uint32]*proposal),
	}
	for _, opt := range opts {
		opt(gen)
	}
	if ownIdx < 0 {
		return gen, nil, nil // no Part: we are an observer
	}

	ownPoly := crypto.RandomBivarPoly(roster.Scheme().KeyGroup, threshold, random.New(rng))
	defer ownPoly.Zeroize()
	commit := ownPoly.Commitment()
	rows := make([][]byte, roster.Len())
	for i, id := range roster.Identities() {
		row := ownPoly.Row(uint64(i) + 1)
		ser, err := row.MarshalBinary()
		row.Zeroize()
		if err != nil {
			return nil, nil, fmt.Errorf("dkg: serialize row for %q: %w", id.Addr, err)
		}
		ct, err := gen.cipher.Encrypt(id.Key, ser, rng)
		wipe(ser)
		if err != nil {
			return nil, nil, fmt.Errorf("dkg: encrypt row for %q: %w", id.Addr, err)
		}
		rows[i] = ct
	}
	return gen, &Part{Commitment: commit, Rows: rows}, nil
}

// Address returns the address of this node.
func (g *Generator) Address() string {
	return g.ownAddr
}

// Index returns this node's roster index, or false for an observer.
func (g *Generator) Index() (int, bool) {
	return g.ownIdx, g.ownIdx >= 0
}

// Roster returns the public-key directory of the run.
func (g *Generator) Roster() *key.Roster {
	return g.roster
}

// Threshold returns the degree of the generated polynomial.
func (g *Generator) Threshold() int {
	return g.threshold
}

// NumNodes returns the number of participating nodes.
func (g *Generator) NumNodes() int {
	return g.roster.Len()
}

// HandlePart handles a Part message. On a valid Part from a new proposer the
// outcome carries the Ack to multicast; handling our own Part is required
// like any other. Randomness for the Ack encryptions is read from rng.
func (g *Generator) HandlePart(senderAddr string, p *Part, rng io.Reader) (*PartOutcome, error) {
	senderIdx, ok := g.roster.Index(senderAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSender, senderAddr)
	}
	if rng == nil {
		rng = entropy.Reader(nil)
	}
	row, fault := g.handlePartOrFault(uint32(senderIdx), p)
	if fault != nil {
		return &PartOutcome{Fault: fault}, nil
	}
	if row == nil {
		return &PartOutcome{}, nil // observer, or Part already handled
	}
	defer row.Zeroize()

	// The row is valid: encrypt one evaluation per node and ack the Part.
	values := make([][]byte, g.roster.Len())
	for j, id := range g.roster.Identities() {
		val := row.Evaluate(uint64(j) + 1)
		ser, err := crypto.MarshalValue(val)
		val.Zero()
		if err != nil {
			return nil, fmt.Errorf("dkg: serialize value for %q: %w", id.Addr, err)
		}
		ct, err := g.cipher.Encrypt(id.Key, ser, rng)
		wipe(ser)
		if err != nil {
			return nil, fmt.Errorf("dkg: encrypt value for %q: %w", id.Addr, err)
		}
		values[j] = ct
	}
	return &PartOutcome{Ack: &Ack{Proposer: uint32(senderIdx), Values: values}}, nil
}

// handlePartOrFault verifies the Part and returns our decrypted row, nil for
// a no-op, or a fault blaming the proposer.
func (g *Generator) handlePartOrFault(senderIdx uint32, p *Part) (*crypto.Poly, *PartFault) {
	fault := func(kind PartFaultKind) *PartFault {
		return &PartFault{Proposer: senderIdx, Kind: kind}
	}
	if len(p.Rows) != g.roster.Len() {
		return nil, fault(FaultRowCount)
	}
	if prop, ok := g.proposals[senderIdx]; ok {
		if !prop.commit.Equal(p.Commitment) {
			return nil, fault(FaultMultipleParts)
		}
		return nil, nil // we already handled this exact Part
	}
	// The first Part from a proposer is the canonical one. The commitment is
	// recorded before the validator-only checks so observers still track it.
	g.proposals[senderIdx] = newProposal(p.Commitment)
	if g.ownIdx < 0 {
		return nil, nil // observers have no row to decrypt
	}
	ser, err := g.cipher.Decrypt(g.ownKey, p.Rows[g.ownIdx])
	if err != nil {
		return nil, fault(FaultDecryptRow)
	}
	row, err := crypto.UnmarshalPoly(g.roster.Scheme().KeyGroup, ser)
	wipe(ser)
	if err != nil {
		return nil, fault(FaultDeserializeRow)
	}
	if !row.Commitment().Equal(p.Commitment.Row(uint64(g.ownIdx) + 1)) {
		row.Zeroize()
		return nil, fault(FaultRowCommitment)
	}
	return row, nil
}

// HandleAck handles an Ack message. Handling our own Acks is required like
// any other.
func (g *Generator) HandleAck(senderAddr string, a *Ack) (*AckOutcome, error) {
	senderIdx, ok := g.roster.Index(senderAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSender, senderAddr)
	}
	return &AckOutcome{Fault: g.handleAckOrFault(uint32(senderIdx), a)}, nil
}

// handleAckOrFault verifies the Ack, records the contribution, and returns a
// fault blaming the sender when the message is invalid.
func (g *Generator) handleAckOrFault(senderIdx uint32, a *Ack) *AckFault {
	fault := func(kind AckFaultKind) *AckFault {
		return &AckFault{Sender: senderIdx, Kind: kind}
	}
	if len(a.Values) != g.roster.Len() {
		return fault(FaultValueCount)
	}
	prop, ok := g.proposals[a.Proposer]
	if !ok {
		return fault(FaultMissingPart)
	}
	if prop.acked(senderIdx) {
		// The first Ack from a sender is authoritative; a duplicate is a
		// no-op even when its body differs.
		return nil
	}
	prop.acks[senderIdx] = struct{}{}
	if g.ownIdx < 0 {
		return nil // observers have no value to decrypt
	}
	ser, err := g.cipher.Decrypt(g.ownKey, a.Values[g.ownIdx])
	if err != nil {
		return fault(FaultDecryptValue)
	}
	val, err := crypto.UnmarshalValue(g.roster.Scheme().KeyGroup, ser)
	wipe(ser)
	if err != nil {
		return fault(FaultDeserializeValue)
	}
	commitEval := prop.commit.Evaluate(uint64(g.ownIdx)+1, uint64(senderIdx)+1)
	valEval := g.roster.Scheme().KeyGroup.Point().Mul(val, nil)
	if !commitEval.Equal(valEval) {
		val.Zero()
		return fault(FaultValueCommitment)
	}
	prop.values[uint64(senderIdx)+1] = val
	return nil
}

// IsNodeReady returns true if the given proposer's Part has collected more
// than threshold Acks.
func (g *Generator) IsNodeReady(proposerAddr string) bool {
	idx, ok := g.roster.Index(proposerAddr)
	if !ok {
		return false
	}
	prop, ok := g.proposals[uint32(idx)]
	return ok && prop.complete(g.threshold)
}

// CountComplete returns the number of complete proposals. Once it exceeds the
// threshold the keys can be generated, but it is possible to wait for more to
// increase security.
func (g *Generator) CountComplete() int {
	n := 0
	for _, prop := range g.proposals {
		if prop.complete(g.threshold) {
			n++
		}
	}
	return n
}

// IsReady returns true if enough proposals are complete to safely generate
// the key.
func (g *Generator) IsReady() bool {
	return g.CountComplete() > g.threshold
}

// Generate returns the public key set and, for a validator, the secret key
// share. It is a pure function of the Generator's state: it can be called
// repeatedly and never mutates anything.
//
// The results are only secure if IsReady returned true; the Generator does
// not enforce it. All participating nodes must have handled the exact same
// sequence of Part and Ack messages before calling Generate, otherwise their
// key shares will not match.
func (g *Generator) Generate() (*crypto.PublicKeySet, *crypto.SecretKeyShare, error) {
	scheme := g.roster.Scheme()
	pkCommit := crypto.ZeroPoly(scheme.KeyGroup).Commitment()
	var skVal kyber.Scalar
	if g.ownIdx >= 0 {
		skVal = scheme.KeyGroup.Scalar().Zero()
	}
	for _, idx := range g.sortedProposers() {
		prop := g.proposals[idx]
		if !prop.complete(g.threshold) {
			continue
		}
		pkCommit.Add(prop.commit.Row(0))
		if skVal == nil {
			continue
		}
		samples := prop.samples()
		if len(samples) <= g.threshold {
			skVal.Zero()
			return nil, nil, fmt.Errorf("dkg: generation: proposer %d has %d verified values, need %d",
				idx, len(samples), g.threshold+1)
		}
		rowPoly, err := crypto.Interpolate(scheme.KeyGroup, samples[:g.threshold+1])
		if err != nil {
			skVal.Zero()
			return nil, nil, fmt.Errorf("dkg: generation: %w", err)
		}
		contrib := rowPoly.Evaluate(0)
		skVal = skVal.Add(skVal, contrib)
		contrib.Zero()
		rowPoly.Zeroize()
	}
	set := crypto.NewPublicKeySet(scheme, pkCommit)
	if skVal == nil {
		return set, nil, nil
	}
	share := crypto.NewSecretKeyShare(scheme, g.ownIdx, skVal)
	skVal.Zero()
	return set, share, nil
}

// sortedProposers returns the proposer indices in ascending order so every
// iteration over proposals is deterministic.
func (g *Generator) sortedProposers() []uint32 {
	idxs := make([]uint32, 0, len(g.proposals))
	for idx := range g.proposals {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
