// Package key manages the long-term asymmetric key material of a node: the
// private/public pair, the self-signed identity published to peers, the
// ordered roster of all participants, and the generated key share. It also
// provides the file-based store for all of the above.
package key

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/keyshard/keyshard/crypto"
	"github.com/keyshard/keyshard/entropy"
)

// Pair is a wrapper around a random scalar and the corresponding public
// identity.
type Pair struct {
	Key    kyber.Scalar
	Public *Identity
}

// Identity holds the public key of a Pair together with a reachable address
// of the node holding it.
type Identity struct {
	Key       kyber.Point
	Addr      string
	Signature []byte
	Scheme    *crypto.Scheme
}

// Address returns the address the node is reachable at.
func (i *Identity) Address() string {
	return i.Addr
}

func (i *Identity) String() string {
	return fmt.Sprintf("{%s - %s}", i.Addr, i.Key.String())
}

// Hash returns the hash of the public key. The hash is the input to the
// identity signature scheme. It does _not_ cover the address field as the
// address may change while the node keeps the same key.
func (i *Identity) Hash() []byte {
	h := i.Scheme.IdentityHash()
	_, _ = i.Key.MarshalTo(h)
	return h.Sum(nil)
}

// ValidSignature returns nil if the self-signature included in this identity
// verifies under its public key.
func (i *Identity) ValidSignature() error {
	// the scheme name is prepended to avoid scheme confusion
	msg := append([]byte(i.Scheme.Name), i.Hash()...)
	return i.Scheme.AuthScheme.Verify(i.Key, msg, i.Signature)
}

// Equal indicates if two identities are equal.
func (i *Identity) Equal(i2 *Identity) bool {
	return i.Addr == i2.Addr && i.Key.Equal(i2.Key)
}

// SelfSign signs the public identity with the private key.
func (p *Pair) SelfSign() error {
	msg := append([]byte(p.Public.Scheme.Name), p.Public.Hash()...)
	signature, err := p.Public.Scheme.AuthScheme.Sign(p.Key, msg)
	if err != nil {
		return err
	}
	p.Public.Signature = signature
	return nil
}

// Scheme returns the pair's crypto scheme.
func (p *Pair) Scheme() *crypto.Scheme {
	return p.Public.Scheme
}

// NewKeyPair returns a freshly created private / public key pair drawing
// randomness from rng (crypto/rand when nil).
func NewKeyPair(address string, scheme *crypto.Scheme, rng io.Reader) (*Pair, error) {
	if scheme == nil {
		scheme = crypto.NewBLSScheme()
	}
	if rng == nil {
		rng = entropy.Reader(nil)
	}
	key := scheme.KeyGroup.Scalar().Pick(random.New(rng))
	pub := &Identity{
		Key:    scheme.KeyGroup.Point().Mul(key, nil),
		Addr:   address,
		Scheme: scheme,
	}
	p := &Pair{
		Key:    key,
		Public: pub,
	}
	err := p.SelfSign()
	return p, err
}

// PairTOML is the TOML-able version of a private key.
type PairTOML struct {
	Key        string
	SchemeName string
}

// PublicTOML is the TOML-able version of a public identity.
type PublicTOML struct {
	Address    string
	Key        string
	Signature  string
	SchemeName string
}

// TOML returns a struct that can be marshaled using a TOML-encoding library.
func (p *Pair) TOML() interface{} {
	return &PairTOML{ScalarToString(p.Key), p.Public.Scheme.Name}
}

// FromTOML constructs the private key from an unmarshaled TOML structure.
func (p *Pair) FromTOML(i interface{}) error {
	ptoml, ok := i.(*PairTOML)
	if !ok {
		return errors.New("private can't decode toml from non PairTOML struct")
	}
	scheme, ok := crypto.SchemeFromName(ptoml.SchemeName)
	if !ok {
		return fmt.Errorf("unknown scheme %q", ptoml.SchemeName)
	}
	var err error
	p.Key, err = StringToScalar(scheme.KeyGroup, ptoml.Key)
	if err != nil {
		return err
	}
	p.Public = &Identity{Scheme: scheme}
	return nil
}

// TOMLValue returns an empty TOML-compatible interface value.
func (p *Pair) TOMLValue() interface{} {
	return &PairTOML{}
}

// TOML returns a TOML-compatible version of the identity.
func (i *Identity) TOML() interface{} {
	return &PublicTOML{
		Address:    i.Addr,
		Key:        PointToString(i.Key),
		Signature:  hex.EncodeToString(i.Signature),
		SchemeName: i.Scheme.Name,
	}
}

// FromTOML reads the TOML description of the public identity.
func (i *Identity) FromTOML(t interface{}) error {
	ptoml, ok := t.(*PublicTOML)
	if !ok {
		return errors.New("public can't decode from non PublicTOML struct")
	}
	scheme, ok := crypto.SchemeFromName(ptoml.SchemeName)
	if !ok {
		return fmt.Errorf("unknown scheme %q", ptoml.SchemeName)
	}
	var err error
	i.Key, err = StringToPoint(scheme.KeyGroup, ptoml.Key)
	if err != nil {
		return err
	}
	i.Signature, err = hex.DecodeString(ptoml.Signature)
	if err != nil {
		return err
	}
	i.Addr = ptoml.Address
	i.Scheme = scheme
	return nil
}

// TOMLValue returns a TOML-compatible interface value.
func (i *Identity) TOMLValue() interface{} {
	return &PublicTOML{}
}
