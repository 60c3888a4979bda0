// Package crypto holds the cryptographic material the key generation is built
// on: the pairing suite, the signature schemes, and the polynomial layer used
// for the secret sharing itself.
package crypto

import (
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/drand/kyber"
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
	"github.com/drand/kyber/sign"

	// The package github.com/drand/kyber/sign/bls is deprecated because it is
	// vulnerable to a rogue public-key attack against aggregated signatures.
	// We only use plain and threshold signatures, never aggregation, so the
	// attack does not apply here.
	//nolint:staticcheck
	signBls "github.com/drand/kyber/sign/bls"
	"github.com/drand/kyber/sign/tbls"
)

// Scheme ties together the groups and signature schemes used by the key
// generation. Long-term identity keys and the generated key set live on
// KeyGroup; threshold signatures live on SigGroup. The two must be distinct
// groups of the pairing.
type Scheme struct {
	// Name of the scheme, stored alongside any serialized key material.
	Name string
	// KeyGroup is the group identity keys and key shares are defined over.
	KeyGroup kyber.Group
	// SigGroup is the group threshold signatures are computed on.
	SigGroup kyber.Group
	// ThresholdScheme signs with a secret key share and recovers the full
	// signature from enough partials.
	ThresholdScheme sign.ThresholdScheme
	// AuthScheme self-signs identities so a roster entry can be checked
	// against the advertised public key.
	AuthScheme sign.Scheme
	// IdentityHash is the hash used to fingerprint identities and rosters.
	IdentityHash func() hash.Hash
	// Pairing is the underlying suite.
	Pairing pairing.Suite
}

// DefaultSchemeID is the name of the scheme used unless configured otherwise.
const DefaultSchemeID = "bls12381-g1-tbls"

// NewBLSScheme instantiates the default scheme: BLS12-381 with identity keys
// and the generated key set on G1 (48-byte points) and threshold signatures
// on G2 (96-byte points).
func NewBLSScheme() *Scheme {
	suite := bls.NewBLS12381Suite()
	identityHash := func() hash.Hash { h, _ := blake2b.New256(nil); return h }
	return &Scheme{
		Name:            DefaultSchemeID,
		KeyGroup:        suite.G1(),
		SigGroup:        suite.G2(),
		ThresholdScheme: tbls.NewThresholdSchemeOnG2(suite),
		AuthScheme:      signBls.NewSchemeOnG2(suite),
		IdentityHash:    identityHash,
		Pairing:         suite,
	}
}

// SchemeFromName returns the scheme with the given name, or false if the name
// is unknown.
func SchemeFromName(name string) (*Scheme, bool) {
	if name == DefaultSchemeID {
		return NewBLSScheme(), true
	}
	return nil, false
}

func (s *Scheme) String() string {
	if s != nil {
		return s.Name
	}
	return ""
}
