package crypto

import (
	"encoding/hex"
	"errors"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
)

// PublicKeySet is the public output of a successful key generation: the
// commitment to the shared master polynomial. It carries the master public
// key, each participant's public key share, and everything needed to verify
// and recover threshold signatures.
type PublicKeySet struct {
	scheme *Scheme
	commit *Commitment
	pub    *share.PubPoly
}

// NewPublicKeySet wraps a commitment of degree threshold.
func NewPublicKeySet(scheme *Scheme, commit *Commitment) *PublicKeySet {
	return &PublicKeySet{
		scheme: scheme,
		commit: commit,
		pub:    share.NewPubPoly(scheme.KeyGroup, scheme.KeyGroup.Point().Base(), commit.Points()),
	}
}

// Threshold returns the maximum number of compromised shares that still keeps
// the master secret safe; Threshold()+1 shares recover signatures.
func (s *PublicKeySet) Threshold() int {
	return s.commit.Degree()
}

// PublicKey returns the master public key.
func (s *PublicKeySet) PublicKey() kyber.Point {
	return s.commit.Evaluate(0)
}

// KeyShare returns the public key share of the participant at the given
// index.
func (s *PublicKeySet) KeyShare(idx int) kyber.Point {
	return s.commit.Evaluate(uint64(idx) + 1)
}

// Commitment returns the underlying polynomial commitment.
func (s *PublicKeySet) Commitment() *Commitment {
	return s.commit
}

// Equal reports whether both sets commit to the same master polynomial.
func (s *PublicKeySet) Equal(other *PublicKeySet) bool {
	return s.commit.Equal(other.commit)
}

// Hash returns a fingerprint of the key set.
func (s *PublicKeySet) Hash() string {
	h := s.scheme.IdentityHash()
	b, _ := s.commit.MarshalBinary()
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyPartial checks one participant's signature share on msg.
func (s *PublicKeySet) VerifyPartial(msg, sig []byte) error {
	return s.scheme.ThresholdScheme.VerifyPartial(s.pub, msg, sig)
}

// Combine recovers the full threshold signature on msg from at least
// Threshold()+1 distinct signature shares out of n participants.
func (s *PublicKeySet) Combine(msg []byte, sigs [][]byte, n int) ([]byte, error) {
	if len(sigs) <= s.Threshold() {
		return nil, errors.New("crypto: not enough signature shares")
	}
	return s.scheme.ThresholdScheme.Recover(s.pub, msg, sigs, s.Threshold()+1, n)
}

// Verify checks a recovered threshold signature against the master public
// key.
func (s *PublicKeySet) Verify(msg, sig []byte) error {
	return s.scheme.ThresholdScheme.VerifyRecovered(s.PublicKey(), msg, sig)
}

// MarshalBinary encodes the set as its commitment.
func (s *PublicKeySet) MarshalBinary() ([]byte, error) {
	return s.commit.MarshalBinary()
}

// UnmarshalPublicKeySet decodes a key set encoded with MarshalBinary.
func UnmarshalPublicKeySet(scheme *Scheme, data []byte) (*PublicKeySet, error) {
	commit, err := UnmarshalCommitment(scheme.KeyGroup, data)
	if err != nil {
		return nil, err
	}
	return NewPublicKeySet(scheme, commit), nil
}

// SecretKeyShare is one participant's share of the master secret. Signatures
// made with Threshold()+1 distinct shares combine into a signature under the
// master public key.
type SecretKeyShare struct {
	scheme *Scheme
	pri    *share.PriShare
}

// NewSecretKeyShare clones the scalar into a share for the participant at
// idx. The caller keeps ownership of v and should zeroize it.
func NewSecretKeyShare(scheme *Scheme, idx int, v kyber.Scalar) *SecretKeyShare {
	return &SecretKeyShare{
		scheme: scheme,
		pri:    &share.PriShare{I: idx, V: scheme.KeyGroup.Scalar().Set(v)},
	}
}

// Index returns the participant index the share belongs to.
func (s *SecretKeyShare) Index() int {
	return s.pri.I
}

// Sign produces a signature share on msg.
func (s *SecretKeyShare) Sign(msg []byte) ([]byte, error) {
	return s.scheme.ThresholdScheme.Sign(s.pri, msg)
}

// Public returns the public counterpart of the share.
func (s *SecretKeyShare) Public() kyber.Point {
	return s.scheme.KeyGroup.Point().Mul(s.pri.V, nil)
}

// Value returns the underlying secret scalar. The share keeps ownership.
func (s *SecretKeyShare) Value() kyber.Scalar {
	return s.pri.V
}

// Zeroize overwrites the secret scalar with zero.
func (s *SecretKeyShare) Zeroize() {
	s.pri.V.Zero()
}
