package key

import (
	"errors"
	"fmt"
	"sort"

	"github.com/drand/kyber"

	"github.com/keyshard/keyshard/crypto"
)

// Roster is the ordered public-key directory of a key generation run. The
// position of an identity in the roster is its index for the whole protocol:
// indices are assigned once at construction and never change. Rosters are
// immutable after construction and safe to share by reference.
type Roster struct {
	scheme *crypto.Scheme
	nodes  []*Identity
	index  map[string]int
}

// NewRoster builds a roster from the given identities, ordered by address so
// that every node derives the same indices from the same membership. All
// identities must use the same scheme, carry distinct addresses and valid
// self-signatures.
func NewRoster(ids []*Identity) (*Roster, error) {
	if len(ids) == 0 {
		return nil, errors.New("key: roster needs at least one identity")
	}
	nodes := make([]*Identity, len(ids))
	copy(nodes, ids)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Addr < nodes[j].Addr })

	scheme := nodes[0].Scheme
	index := make(map[string]int, len(nodes))
	for i, id := range nodes {
		if id.Scheme.Name != scheme.Name {
			return nil, fmt.Errorf("key: roster mixes schemes %q and %q", scheme.Name, id.Scheme.Name)
		}
		if _, ok := index[id.Addr]; ok {
			return nil, fmt.Errorf("key: duplicate address %q in roster", id.Addr)
		}
		if err := id.ValidSignature(); err != nil {
			return nil, fmt.Errorf("key: invalid signature for %q: %w", id.Addr, err)
		}
		index[id.Addr] = i
	}
	return &Roster{scheme: scheme, nodes: nodes, index: index}, nil
}

// Len returns the number of identities in the roster.
func (r *Roster) Len() int {
	return len(r.nodes)
}

// Scheme returns the scheme all roster identities use.
func (r *Roster) Scheme() *crypto.Scheme {
	return r.scheme
}

// Node returns the identity at the given index.
func (r *Roster) Node(i int) *Identity {
	return r.nodes[i]
}

// Index returns the index of the identity with the given address, or false if
// the address is not part of the roster.
func (r *Roster) Index(addr string) (int, bool) {
	i, ok := r.index[addr]
	return i, ok
}

// Identity returns the identity with the given address, or nil.
func (r *Roster) Identity(addr string) *Identity {
	if i, ok := r.index[addr]; ok {
		return r.nodes[i]
	}
	return nil
}

// Contains reports whether the address belongs to the roster.
func (r *Roster) Contains(addr string) bool {
	_, ok := r.index[addr]
	return ok
}

// Points returns the public keys in roster order.
func (r *Roster) Points() []kyber.Point {
	out := make([]kyber.Point, len(r.nodes))
	for i, id := range r.nodes {
		out[i] = id.Key
	}
	return out
}

// Identities returns the identities in roster order.
func (r *Roster) Identities() []*Identity {
	out := make([]*Identity, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Hash returns a fingerprint of the roster membership and ordering.
func (r *Roster) Hash() []byte {
	h := r.scheme.IdentityHash()
	for _, id := range r.nodes {
		_, _ = h.Write([]byte(id.Addr))
		_, _ = id.Key.MarshalTo(h)
	}
	return h.Sum(nil)
}

// RosterTOML is the TOML-able version of a roster.
type RosterTOML struct {
	Nodes []*PublicTOML
}

// TOML returns a TOML-compatible version of the roster.
func (r *Roster) TOML() interface{} {
	nodes := make([]*PublicTOML, len(r.nodes))
	for i, id := range r.nodes {
		nodes[i] = id.TOML().(*PublicTOML)
	}
	return &RosterTOML{Nodes: nodes}
}

// FromTOML reads the TOML description of a roster.
func (r *Roster) FromTOML(t interface{}) error {
	gtoml, ok := t.(*RosterTOML)
	if !ok {
		return errors.New("roster can't decode from non RosterTOML struct")
	}
	ids := make([]*Identity, len(gtoml.Nodes))
	for i, n := range gtoml.Nodes {
		ids[i] = new(Identity)
		if err := ids[i].FromTOML(n); err != nil {
			return err
		}
	}
	loaded, err := NewRoster(ids)
	if err != nil {
		return err
	}
	*r = *loaded
	return nil
}

// TOMLValue returns a TOML-compatible interface value.
func (r *Roster) TOMLValue() interface{} {
	return &RosterTOML{}
}
