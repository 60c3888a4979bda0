package dkg

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/keyshard/keyshard/crypto"
	"github.com/keyshard/keyshard/key"
)

type node struct {
	pair *key.Pair
	gen  *Generator
	part *Part
}

func testRng(seed int64) *rand.Rand {
	//nolint:gosec // deterministic randomness for tests
	return rand.New(rand.NewSource(seed))
}

// setupNodes creates n validators with a shared roster, ordered by roster
// index, each with its Generator and initial Part.
func setupNodes(t *testing.T, n, threshold int) []*node {
	t.Helper()
	scheme := crypto.NewBLSScheme()
	pairs := make(map[string]*key.Pair, n)
	ids := make([]*key.Identity, n)
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("127.0.0.1:%d", 8000+i)
		pair, err := key.NewKeyPair(addr, scheme, nil)
		require.NoError(t, err)
		pairs[addr] = pair
		ids[i] = pair.Public
	}
	roster, err := key.NewRoster(ids)
	require.NoError(t, err)

	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		pair := pairs[roster.Node(i).Addr]
		gen, part, err := NewGenerator(pair, roster, threshold, nil)
		require.NoError(t, err)
		require.NotNil(t, part)
		nodes[i] = &node{pair: pair, gen: gen, part: part}
	}
	return nodes
}

// distributeParts feeds every Part, in index order, into every generator in
// gens and returns each node's acks in (proposer, acker) order.
func distributeParts(t *testing.T, nodes []*node, extra ...*Generator) [][]*Ack {
	t.Helper()
	acks := make([][]*Ack, len(nodes))
	for pi, proposer := range nodes {
		for _, n := range nodes {
			out, err := n.gen.HandlePart(proposer.pair.Public.Addr, proposer.part, nil)
			require.NoError(t, err)
			require.True(t, out.Valid())
			require.NotNil(t, out.Ack)
			acks[pi] = append(acks[pi], out.Ack)
		}
		for _, g := range extra {
			out, err := g.HandlePart(proposer.pair.Public.Addr, proposer.part, nil)
			require.NoError(t, err)
			require.True(t, out.Valid())
			require.Nil(t, out.Ack)
		}
	}
	return acks
}

// distributeAcks feeds every collected Ack into every generator.
func distributeAcks(t *testing.T, nodes []*node, acks [][]*Ack, extra ...*Generator) {
	t.Helper()
	for _, perProposer := range acks {
		for acker, ack := range perProposer {
			if ack == nil {
				continue
			}
			sender := nodes[acker].pair.Public.Addr
			for _, n := range nodes {
				out, err := n.gen.HandleAck(sender, ack)
				require.NoError(t, err)
				require.True(t, out.Valid())
			}
			for _, g := range extra {
				out, err := g.HandleAck(sender, ack)
				require.NoError(t, err)
				require.True(t, out.Valid())
			}
		}
	}
}

func generateAll(t *testing.T, nodes []*node) (*crypto.PublicKeySet, []*crypto.SecretKeyShare) {
	t.Helper()
	var set *crypto.PublicKeySet
	shares := make([]*crypto.SecretKeyShare, len(nodes))
	for i, n := range nodes {
		require.True(t, n.gen.IsReady())
		s, share, err := n.gen.Generate()
		require.NoError(t, err)
		require.NotNil(t, share)
		if set == nil {
			set = s
		} else {
			require.True(t, set.Equal(s))
		}
		shares[i] = share
	}
	return set, shares
}

func TestFullRunFourNodes(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	acks := distributeParts(t, nodes)
	distributeAcks(t, nodes, acks)

	for _, n := range nodes {
		require.Equal(t, 4, n.gen.CountComplete())
		for _, m := range nodes {
			require.True(t, n.gen.IsNodeReady(m.pair.Public.Addr))
		}
	}
	set, shares := generateAll(t, nodes)

	msg := []byte("Nodes 0 and 1 does not agree with this.")
	var sigs [][]byte
	for _, i := range []int{0, 1} {
		sig, err := shares[i].Sign(msg)
		require.NoError(t, err)
		require.NoError(t, set.VerifyPartial(msg, sig))
		sigs = append(sigs, sig)
	}
	full, err := set.Combine(msg, sigs, 4)
	require.NoError(t, err)
	require.NoError(t, set.Verify(msg, full))
}

func TestFullRunTwoNodes(t *testing.T) {
	nodes := setupNodes(t, 2, 0)
	acks := distributeParts(t, nodes)

	// with threshold 0 a single complete proposal is enough
	first := nodes[0]
	out, err := first.gen.HandleAck(nodes[0].pair.Public.Addr, acks[0][0])
	require.NoError(t, err)
	require.True(t, out.Valid())
	require.True(t, first.gen.IsNodeReady(nodes[0].pair.Public.Addr))
	require.True(t, first.gen.IsReady())

	distributeAcks(t, nodes, acks)
	set, shares := generateAll(t, nodes)

	msg := []byte("Sign this")
	sig0, err := shares[0].Sign(msg)
	require.NoError(t, err)
	full, err := set.Combine(msg, [][]byte{sig0}, 2)
	require.NoError(t, err)
	require.NoError(t, set.Verify(msg, full))
}

func TestObserver(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	roster := nodes[0].gen.Roster()

	// the observer's identity is absent from the roster
	observerPair, err := key.NewKeyPair("127.0.0.1:9999", roster.Scheme(), nil)
	require.NoError(t, err)
	obs, part, err := NewGenerator(observerPair, roster, 1, nil)
	require.NoError(t, err)
	require.Nil(t, part)
	_, isValidator := obs.Index()
	require.False(t, isValidator)

	acks := distributeParts(t, nodes, obs)
	distributeAcks(t, nodes, acks, obs)

	require.True(t, obs.IsReady())
	set, _ := generateAll(t, nodes)
	obsSet, obsShare, err := obs.Generate()
	require.NoError(t, err)
	require.Nil(t, obsShare)
	require.True(t, set.Equal(obsSet))
}

func TestMultiplePartsFault(t *testing.T) {
	nodes := setupNodes(t, 4, 1)

	// node 1 equivocates: a second Generator for the same pair yields a
	// different Part
	_, secondPart, err := NewGenerator(nodes[1].pair, nodes[1].gen.Roster(), 1, nil)
	require.NoError(t, err)
	require.False(t, nodes[1].part.Equal(secondPart))

	acks := distributeParts(t, nodes)
	for _, n := range nodes {
		out, err := n.gen.HandlePart(nodes[1].pair.Public.Addr, secondPart, nil)
		require.NoError(t, err)
		require.False(t, out.Valid())
		require.Equal(t, FaultMultipleParts, out.Fault.Kind)
	}

	// proceed with the three honest proposers only
	acks[1] = nil
	distributeAcks(t, nodes, acks)
	for _, n := range nodes {
		require.Equal(t, 3, n.gen.CountComplete())
		require.True(t, n.gen.IsReady())
	}
	set, shares := generateAll(t, nodes)

	msg := []byte("still signing")
	sigA, err := shares[2].Sign(msg)
	require.NoError(t, err)
	sigB, err := shares[3].Sign(msg)
	require.NoError(t, err)
	full, err := set.Combine(msg, [][]byte{sigA, sigB}, 4)
	require.NoError(t, err)
	require.NoError(t, set.Verify(msg, full))
}

func TestTamperedAck(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	acks := distributeParts(t, nodes)

	// flip one byte of the ciphertext addressed to node 2 in node 3's ack on
	// proposal 0
	tampered := &Ack{Proposer: acks[0][3].Proposer, Values: make([][]byte, len(acks[0][3].Values))}
	for i, v := range acks[0][3].Values {
		tampered.Values[i] = append([]byte{}, v...)
	}
	tampered.Values[2][len(tampered.Values[2])-1] ^= 0x01

	sender := nodes[3].pair.Public.Addr
	for i, n := range nodes {
		delivered := acks[0][3]
		if i == 2 {
			delivered = tampered
		}
		out, err := n.gen.HandleAck(sender, delivered)
		require.NoError(t, err)
		if i == 2 {
			require.False(t, out.Valid())
			require.Contains(t,
				[]AckFaultKind{FaultDecryptValue, FaultValueCommitment},
				out.Fault.Kind)
		} else {
			require.True(t, out.Valid())
		}
	}

	// the faulty sender was still counted as acking, so the run completes
	acks[0][3] = nil
	distributeAcks(t, nodes, acks)
	set, shares := generateAll(t, nodes)

	msg := []byte("run completes anyway")
	sigA, err := shares[1].Sign(msg)
	require.NoError(t, err)
	sigB, err := shares[2].Sign(msg)
	require.NoError(t, err)
	full, err := set.Combine(msg, [][]byte{sigA, sigB}, 4)
	require.NoError(t, err)
	require.NoError(t, set.Verify(msg, full))
}

func TestAckBeforePart(t *testing.T) {
	nodes := setupNodes(t, 2, 0)

	// the acker needs the part first to produce an ack at all, so node 1
	// handles it before node 0 does
	out, err := nodes[1].gen.HandlePart(nodes[0].pair.Public.Addr, nodes[0].part, nil)
	require.NoError(t, err)
	ack := out.Ack
	require.NotNil(t, ack)

	// node 0 sees the ack before the part it references
	out2, err := nodes[0].gen.HandleAck(nodes[1].pair.Public.Addr, ack)
	require.NoError(t, err)
	require.False(t, out2.Valid())
	require.Equal(t, FaultMissingPart, out2.Fault.Kind)

	// the core does not retry the ack by itself; once the transport
	// redelivers it after the part, it is accepted
	_, err = nodes[0].gen.HandlePart(nodes[0].pair.Public.Addr, nodes[0].part, nil)
	require.NoError(t, err)
	out3, err := nodes[0].gen.HandleAck(nodes[1].pair.Public.Addr, ack)
	require.NoError(t, err)
	require.True(t, out3.Valid())
}

func TestPartIdempotence(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	n := nodes[0]
	sender := nodes[1].pair.Public.Addr

	out, err := n.gen.HandlePart(sender, nodes[1].part, nil)
	require.NoError(t, err)
	require.True(t, out.Valid())
	require.NotNil(t, out.Ack)

	// the second delivery of the exact same Part is a no-op
	out2, err := n.gen.HandlePart(sender, nodes[1].part, nil)
	require.NoError(t, err)
	require.True(t, out2.Valid())
	require.Nil(t, out2.Ack)
}

func TestAckIdempotence(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	acks := distributeParts(t, nodes)
	sender := nodes[2].pair.Public.Addr

	out, err := nodes[0].gen.HandleAck(sender, acks[1][2])
	require.NoError(t, err)
	require.True(t, out.Valid())
	before := nodes[0].gen.CountComplete()

	out2, err := nodes[0].gen.HandleAck(sender, acks[1][2])
	require.NoError(t, err)
	require.True(t, out2.Valid())
	require.Equal(t, before, nodes[0].gen.CountComplete())
}

func TestUnknownSender(t *testing.T) {
	nodes := setupNodes(t, 2, 0)
	_, err := nodes[0].gen.HandlePart("10.0.0.1:1234", nodes[1].part, nil)
	require.ErrorIs(t, err, ErrUnknownSender)
	_, err = nodes[0].gen.HandleAck("10.0.0.1:1234", &Ack{Values: make([][]byte, 2)})
	require.ErrorIs(t, err, ErrUnknownSender)
}

func TestPartFaults(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	roster := nodes[0].gen.Roster()
	g := roster.Scheme().KeyGroup
	receiver := nodes[0]
	sender := nodes[1].pair.Public.Addr
	cipher := NewECIESCipher(g)

	t.Run("RowCount", func(t *testing.T) {
		bad := &Part{Commitment: nodes[1].part.Commitment, Rows: nodes[1].part.Rows[:3]}
		out, err := receiver.gen.HandlePart(sender, bad, nil)
		require.NoError(t, err)
		require.Equal(t, FaultRowCount, out.Fault.Kind)
	})
	t.Run("DecryptRow", func(t *testing.T) {
		rows := make([][]byte, len(nodes[1].part.Rows))
		for i, r := range nodes[1].part.Rows {
			rows[i] = append([]byte{}, r...)
		}
		rows[0][len(rows[0])-1] ^= 0x01
		out, err := receiver.gen.HandlePart(sender, &Part{Commitment: nodes[1].part.Commitment, Rows: rows}, nil)
		require.NoError(t, err)
		require.Equal(t, FaultDecryptRow, out.Fault.Kind)
	})
	t.Run("DeserializeRow", func(t *testing.T) {
		rows := make([][]byte, len(nodes[2].part.Rows))
		copy(rows, nodes[2].part.Rows)
		garbage, err := cipher.Encrypt(receiver.pair.Public.Key, []byte("not a polynomial"), nil)
		require.NoError(t, err)
		rows[0] = garbage
		out, err := receiver.gen.HandlePart(nodes[2].pair.Public.Addr, &Part{Commitment: nodes[2].part.Commitment, Rows: rows}, nil)
		require.NoError(t, err)
		require.Equal(t, FaultDeserializeRow, out.Fault.Kind)
	})
	t.Run("RowCommitment", func(t *testing.T) {
		// a well-formed row of the right degree that does not match the
		// commitment
		wrong := crypto.RandomBivarPoly(g, 1, random.New())
		ser, err := wrong.Row(1).MarshalBinary()
		require.NoError(t, err)
		ct, err := cipher.Encrypt(receiver.pair.Public.Key, ser, nil)
		require.NoError(t, err)
		rows := make([][]byte, len(nodes[3].part.Rows))
		copy(rows, nodes[3].part.Rows)
		rows[0] = ct
		out, err := receiver.gen.HandlePart(nodes[3].pair.Public.Addr, &Part{Commitment: nodes[3].part.Commitment, Rows: rows}, nil)
		require.NoError(t, err)
		require.Equal(t, FaultRowCommitment, out.Fault.Kind)
	})
}

func TestAckFaults(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	g := nodes[0].gen.Roster().Scheme().KeyGroup
	cipher := NewECIESCipher(g)
	acks := distributeParts(t, nodes)
	receiver := nodes[0]
	sender := nodes[2].pair.Public.Addr

	t.Run("ValueCount", func(t *testing.T) {
		bad := &Ack{Proposer: 1, Values: acks[1][2].Values[:2]}
		out, err := receiver.gen.HandleAck(sender, bad)
		require.NoError(t, err)
		require.Equal(t, FaultValueCount, out.Fault.Kind)
	})
	t.Run("MissingPart", func(t *testing.T) {
		bad := &Ack{Proposer: 7, Values: acks[1][2].Values}
		out, err := receiver.gen.HandleAck(sender, bad)
		require.NoError(t, err)
		require.Equal(t, FaultMissingPart, out.Fault.Kind)
	})
	t.Run("DecryptValue", func(t *testing.T) {
		values := make([][]byte, len(acks[1][2].Values))
		for i, v := range acks[1][2].Values {
			values[i] = append([]byte{}, v...)
		}
		values[0][0] ^= 0x01
		out, err := receiver.gen.HandleAck(sender, &Ack{Proposer: 1, Values: values})
		require.NoError(t, err)
		require.Equal(t, FaultDecryptValue, out.Fault.Kind)
	})
	t.Run("DeserializeValue", func(t *testing.T) {
		values := make([][]byte, len(acks[1][3].Values))
		copy(values, acks[1][3].Values)
		garbage, err := cipher.Encrypt(receiver.pair.Public.Key, []byte("bad"), nil)
		require.NoError(t, err)
		values[0] = garbage
		out, err := receiver.gen.HandleAck(nodes[3].pair.Public.Addr, &Ack{Proposer: 1, Values: values})
		require.NoError(t, err)
		require.Equal(t, FaultDeserializeValue, out.Fault.Kind)
	})
	t.Run("ValueCommitment", func(t *testing.T) {
		values := make([][]byte, len(acks[2][3].Values))
		copy(values, acks[2][3].Values)
		wrong, err := crypto.MarshalValue(g.Scalar().One())
		require.NoError(t, err)
		ct, err := cipher.Encrypt(receiver.pair.Public.Key, wrong, nil)
		require.NoError(t, err)
		values[0] = ct
		out, err := receiver.gen.HandleAck(nodes[3].pair.Public.Addr, &Ack{Proposer: 2, Values: values})
		require.NoError(t, err)
		require.Equal(t, FaultValueCommitment, out.Fault.Kind)
	})
}

func TestAckOrderIndependence(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	acks := distributeParts(t, nodes)

	// first two nodes get acks in canonical order, the other two reversed
	type delivery struct {
		sender string
		ack    *Ack
	}
	var plan []delivery
	for pi := range acks {
		for acker, ack := range acks[pi] {
			plan = append(plan, delivery{sender: nodes[acker].pair.Public.Addr, ack: ack})
		}
	}
	for i, n := range nodes {
		order := plan
		if i >= 2 {
			order = make([]delivery, len(plan))
			for j := range plan {
				order[j] = plan[len(plan)-1-j]
			}
		}
		for _, d := range order {
			out, err := n.gen.HandleAck(d.sender, d.ack)
			require.NoError(t, err)
			require.True(t, out.Valid())
		}
	}
	generateAll(t, nodes)
}

func TestReadinessMonotonic(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	acks := distributeParts(t, nodes)
	n := nodes[0]
	last := n.gen.CountComplete()
	for pi := range acks {
		for acker, ack := range acks[pi] {
			out, err := n.gen.HandleAck(nodes[acker].pair.Public.Addr, ack)
			require.NoError(t, err)
			require.True(t, out.Valid())
			now := n.gen.CountComplete()
			require.GreaterOrEqual(t, now, last)
			last = now
		}
	}
}

func TestGenerateIsPure(t *testing.T) {
	nodes := setupNodes(t, 4, 1)
	acks := distributeParts(t, nodes)
	distributeAcks(t, nodes, acks)

	set1, share1, err := nodes[0].gen.Generate()
	require.NoError(t, err)
	set2, share2, err := nodes[0].gen.Generate()
	require.NoError(t, err)
	require.True(t, set1.Equal(set2))
	require.True(t, share1.Value().Equal(share2.Value()))
}

func TestThresholdValidation(t *testing.T) {
	nodes := setupNodes(t, 2, 0)
	roster := nodes[0].gen.Roster()
	_, _, err := NewGenerator(nodes[0].pair, roster, 2, nil)
	require.Error(t, err)
	_, _, err = NewGenerator(nodes[0].pair, roster, -1, nil)
	require.Error(t, err)
}

func TestDeterministicRuns(t *testing.T) {
	run := func() ([]byte, []byte, []byte) {
		scheme := crypto.NewBLSScheme()
		rngs := []*rand.Rand{testRng(100), testRng(200)}
		var pairs []*key.Pair
		var ids []*key.Identity
		for i := 0; i < 2; i++ {
			pair, err := key.NewKeyPair(fmt.Sprintf("127.0.0.1:%d", 8000+i), scheme, rngs[i])
			require.NoError(t, err)
			pairs = append(pairs, pair)
			ids = append(ids, pair.Public)
		}
		roster, err := key.NewRoster(ids)
		require.NoError(t, err)

		gens := make([]*Generator, 2)
		parts := make([]*Part, 2)
		for i := 0; i < 2; i++ {
			gens[i], parts[i], err = NewGenerator(pairs[i], roster, 0, rngs[i])
			require.NoError(t, err)
		}
		var ackBytes []byte
		for pi := 0; pi < 2; pi++ {
			for ni := 0; ni < 2; ni++ {
				out, err := gens[ni].HandlePart(pairs[pi].Public.Addr, parts[pi], rngs[ni])
				require.NoError(t, err)
				ab, err := out.Ack.MarshalBinary()
				require.NoError(t, err)
				ackBytes = append(ackBytes, ab...)
				for nj := 0; nj < 2; nj++ {
					_, err = gens[nj].HandleAck(pairs[ni].Public.Addr, out.Ack)
					require.NoError(t, err)
				}
			}
		}
		set, share, err := gens[0].Generate()
		require.NoError(t, err)
		setBytes, err := set.MarshalBinary()
		require.NoError(t, err)
		shareBytes, err := share.Value().MarshalBinary()
		require.NoError(t, err)
		partBytes, err := parts[0].MarshalBinary()
		require.NoError(t, err)
		return append(partBytes, ackBytes...), setBytes, shareBytes
	}

	msgs1, set1, share1 := run()
	msgs2, set2, share2 := run()
	require.Equal(t, msgs1, msgs2)
	require.Equal(t, set1, set2)
	require.Equal(t, share1, share2)
}
