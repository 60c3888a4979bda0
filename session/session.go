// Package session tracks the state of ongoing and finished key generation
// runs on a node. A session records the roster, the threshold, and every
// protocol message in the order it was handled; because the protocol is
// deterministic, replaying the record through a fresh Generator rebuilds the
// exact state, so the record is all that ever needs to be persisted.
package session

import (
	"fmt"
	"io"

	"github.com/keyshard/keyshard/crypto"
	"github.com/keyshard/keyshard/dkg"
	"github.com/keyshard/keyshard/key"
)

// NodeRecord is the storable form of one roster identity.
type NodeRecord struct {
	Address   string `json:"address"`
	Key       []byte `json:"key"`
	Signature []byte `json:"signature"`
}

// Envelope is one recorded protocol message with its sender.
type Envelope struct {
	Sender string `json:"sender"`
	Body   []byte `json:"body"`
}

// Session is the storable state of one key generation run.
type Session struct {
	ID        string        `json:"id"`
	Scheme    string        `json:"scheme"`
	Threshold int           `json:"threshold"`
	Nodes     []*NodeRecord `json:"nodes"`
	Parts     []*Envelope   `json:"parts"`
	Acks      []*Envelope   `json:"acks"`
	Complete  bool          `json:"complete"`
	// PublicKey is the marshaled public key set, present once complete.
	PublicKey []byte `json:"public_key,omitempty"`
}

// New records a fresh session for the given roster.
func New(id string, roster *key.Roster, threshold int) *Session {
	nodes := make([]*NodeRecord, roster.Len())
	for i, n := range roster.Identities() {
		kb, _ := n.Key.MarshalBinary()
		nodes[i] = &NodeRecord{Address: n.Addr, Key: kb, Signature: n.Signature}
	}
	return &Session{
		ID:        id,
		Scheme:    roster.Scheme().Name,
		Threshold: threshold,
		Nodes:     nodes,
	}
}

// RecordPart appends a handled Part to the session record.
func (s *Session) RecordPart(sender string, p *dkg.Part) error {
	body, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	s.Parts = append(s.Parts, &Envelope{Sender: sender, Body: body})
	return nil
}

// RecordAck appends a handled Ack to the session record.
func (s *Session) RecordAck(sender string, a *dkg.Ack) error {
	body, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	s.Acks = append(s.Acks, &Envelope{Sender: sender, Body: body})
	return nil
}

// Roster rebuilds the roster recorded in the session.
func (s *Session) Roster() (*key.Roster, error) {
	scheme, ok := crypto.SchemeFromName(s.Scheme)
	if !ok {
		return nil, fmt.Errorf("session: unknown scheme %q", s.Scheme)
	}
	ids := make([]*key.Identity, len(s.Nodes))
	for i, n := range s.Nodes {
		p := scheme.KeyGroup.Point()
		if err := p.UnmarshalBinary(n.Key); err != nil {
			return nil, fmt.Errorf("session: node %q key: %w", n.Address, err)
		}
		ids[i] = &key.Identity{Key: p, Addr: n.Address, Signature: n.Signature, Scheme: scheme}
	}
	return key.NewRoster(ids)
}

// Rebuild replays every recorded message, in recorded order, through a fresh
// Generator owned by pair. Protocol determinism makes the result equal to the
// state the node held when the messages were first handled. Outcomes are
// discarded: faults were already judged at record time.
func (s *Session) Rebuild(pair *key.Pair, rng io.Reader) (*dkg.Generator, error) {
	roster, err := s.Roster()
	if err != nil {
		return nil, err
	}
	gen, _, err := dkg.NewGenerator(pair, roster, s.Threshold, rng)
	if err != nil {
		return nil, err
	}
	for _, env := range s.Parts {
		p, err := dkg.UnmarshalPart(roster.Scheme(), env.Body)
		if err != nil {
			return nil, fmt.Errorf("session: recorded part from %q: %w", env.Sender, err)
		}
		if _, err := gen.HandlePart(env.Sender, p, rng); err != nil {
			return nil, err
		}
	}
	for _, env := range s.Acks {
		a, err := dkg.UnmarshalAck(env.Body)
		if err != nil {
			return nil, fmt.Errorf("session: recorded ack from %q: %w", env.Sender, err)
		}
		if _, err := gen.HandleAck(env.Sender, a); err != nil {
			return nil, err
		}
	}
	return gen, nil
}
