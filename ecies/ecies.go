// Package ecies provides an implementation of the ECIES scheme used to
// encrypt protocol payloads to a participant's long-term public key.
package ecies

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/hkdf"

	"github.com/keyshard/keyshard/entropy"
)

// DefaultHash is the default hash to use with ECIES.
var DefaultHash = sha256.New

const (
	keyLength   = 32
	nonceLength = 12
)

// Encrypt performs an ephemeral-static DH exchange, creates the shared key
// from it using a KDF scheme (hkdf from Go at the time of writing) and then
// computes the ciphertext using an AEAD scheme (AES-GCM from Go at the time
// of writing). The ephemeral point and the nonce are prepended to the
// ciphertext so the whole output is one opaque byte string. All randomness is
// read from rng so two runs with the same rng produce the same bytes.
func Encrypt(g kyber.Group, fn func() hash.Hash, public kyber.Point, msg []byte, rng io.Reader) ([]byte, error) {
	if fn == nil {
		fn = DefaultHash
	}
	if rng == nil {
		rng = entropy.Reader(nil)
	}
	// generate an ephemeral key pair and perform the DH
	r := g.Scalar().Pick(random.New(rng))
	eph := g.Point().Mul(r, nil)
	ephBuff, err := eph.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("ecies: encrypt failed to marshal eph. point: %w", err)
	}
	dh := g.Point().Mul(r, public)
	r.Zero()
	dhBuff, err := dh.MarshalBinary()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(fn, dhBuff)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, err
	}

	aesgcm, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	ciphertext := aesgcm.Seal(nil, nonce, msg, nil)

	out := make([]byte, 0, len(ephBuff)+nonceLength+len(ciphertext))
	out = append(out, ephBuff...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt does almost the same as Encrypt: the ephemeral-static DH exchange,
// and the derivation of the symmetric key. It finally tries to decrypt the
// ciphertext and returns the plaintext if successful, an error otherwise.
func Decrypt(g kyber.Group, fn func() hash.Hash, priv kyber.Scalar, ct []byte) ([]byte, error) {
	if fn == nil {
		fn = DefaultHash
	}
	pointLen := g.PointLen()
	if len(ct) < pointLen+nonceLength {
		return nil, errors.New("ecies: ciphertext too short")
	}
	eph := g.Point()
	if err := eph.UnmarshalBinary(ct[:pointLen]); err != nil {
		return nil, err
	}
	dh := g.Point().Mul(priv, eph)
	dhBuff, err := dh.MarshalBinary()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(fn, dhBuff)
	if err != nil {
		return nil, err
	}

	aesgcm, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := ct[pointLen : pointLen+nonceLength]
	return aesgcm.Open(nil, nonce, ct[pointLen+nonceLength:], nil)
}

func deriveKey(fn func() hash.Hash, dh []byte) ([]byte, error) {
	reader := hkdf.New(fn, dh, nil, nil)
	key := make([]byte, keyLength)
	n, err := reader.Read(key)
	if err != nil {
		return nil, err
	} else if n != keyLength {
		return nil, errors.New("ecies: not enough bits from the shared secret")
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
