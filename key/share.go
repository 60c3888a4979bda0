package key

import (
	"errors"
	"fmt"

	"github.com/keyshard/keyshard/crypto"
)

// Share is the output of a finished key generation for one node: the public
// key set of the whole group and, when the node is a validator, its own
// secret key share.
type Share struct {
	Set   *crypto.PublicKeySet
	Share *crypto.SecretKeyShare
}

// Public returns the master public key of the group.
func (s *Share) Public() string {
	return PointToString(s.Set.PublicKey())
}

// ShareTOML is the TOML-able version of a share.
type ShareTOML struct {
	// Commitment to the master polynomial, hex-encoded.
	Set string
	// Index of this node's share, -1 for an observer.
	Index int
	// The secret scalar, hex-encoded. Empty for an observer.
	Secret     string
	SchemeName string
}

// TOML returns a TOML-compatible version of the share.
func (s *Share) TOML() interface{} {
	setBytes, _ := s.Set.MarshalBinary()
	t := &ShareTOML{
		Set:        fmt.Sprintf("%x", setBytes),
		Index:      -1,
		SchemeName: crypto.DefaultSchemeID,
	}
	if s.Share != nil {
		t.Index = s.Share.Index()
		t.Secret = ScalarToString(s.Share.Value())
	}
	return t
}

// FromTOML reads a share from its TOML description.
func (s *Share) FromTOML(i interface{}) error {
	t, ok := i.(*ShareTOML)
	if !ok {
		return errors.New("share can't decode from non ShareTOML struct")
	}
	scheme, ok := crypto.SchemeFromName(t.SchemeName)
	if !ok {
		return fmt.Errorf("unknown scheme %q", t.SchemeName)
	}
	var setBytes []byte
	if _, err := fmt.Sscanf(t.Set, "%x", &setBytes); err != nil {
		return err
	}
	set, err := crypto.UnmarshalPublicKeySet(scheme, setBytes)
	if err != nil {
		return err
	}
	s.Set = set
	s.Share = nil
	if t.Index >= 0 {
		v, err := StringToScalar(scheme.KeyGroup, t.Secret)
		if err != nil {
			return err
		}
		s.Share = crypto.NewSecretKeyShare(scheme, t.Index, v)
		v.Zero()
	}
	return nil
}

// TOMLValue returns a TOML-compatible interface value.
func (s *Share) TOMLValue() interface{} {
	return &ShareTOML{}
}
