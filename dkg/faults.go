package dkg

import (
	"errors"
	"fmt"
)

// Two disjoint failure categories exist in this package. Local errors mean
// our own environment failed (construction, encryption, serialization, or the
// caller handing us a sender outside the roster); they travel on the error
// return. Peer faults mean an incoming message is provably invalid; detecting
// one is a successful protocol step, so faults travel inside the outcome of
// the handler, attributed to the peer.

// ErrUnknownSender is returned when the caller supplies a sender address that
// is not part of the roster. Filtering such messages is the caller's job.
var ErrUnknownSender = errors.New("dkg: unknown sender")

// PartFaultKind enumerates the ways a Part message proves its proposer
// faulty.
type PartFaultKind uint32

const (
	// FaultRowCount: the number of rows differs from the roster size.
	FaultRowCount PartFaultKind = iota
	// FaultMultipleParts: a second, different Part arrived from the same
	// proposer.
	FaultMultipleParts
	// FaultDecryptRow: our row in the Part could not be decrypted.
	FaultDecryptRow
	// FaultDeserializeRow: our row in the Part could not be deserialized.
	FaultDeserializeRow
	// FaultRowCommitment: the row does not match the commitment.
	FaultRowCommitment
)

func (k PartFaultKind) String() string {
	switch k {
	case FaultRowCount:
		return "RowCount"
	case FaultMultipleParts:
		return "MultipleParts"
	case FaultDecryptRow:
		return "DecryptRow"
	case FaultDeserializeRow:
		return "DeserializeRow"
	case FaultRowCommitment:
		return "RowCommitment"
	default:
		return fmt.Sprintf("PartFaultKind(%d)", uint32(k))
	}
}

// PartFault blames the proposer of an invalid Part.
type PartFault struct {
	Proposer uint32
	Kind     PartFaultKind
}

func (f *PartFault) Error() string {
	return fmt.Sprintf("invalid Part from proposer %d: %s", f.Proposer, f.Kind)
}

// AckFaultKind enumerates the ways an Ack message proves its sender faulty.
type AckFaultKind uint32

const (
	// FaultValueCount: the number of values differs from the roster size.
	FaultValueCount AckFaultKind = iota
	// FaultMissingPart: no corresponding Part was received.
	FaultMissingPart
	// FaultDecryptValue: our value could not be decrypted.
	FaultDecryptValue
	// FaultDeserializeValue: our value could not be deserialized.
	FaultDeserializeValue
	// FaultValueCommitment: the value does not match the commitment.
	FaultValueCommitment
)

func (k AckFaultKind) String() string {
	switch k {
	case FaultValueCount:
		return "ValueCount"
	case FaultMissingPart:
		return "MissingPart"
	case FaultDecryptValue:
		return "DecryptValue"
	case FaultDeserializeValue:
		return "DeserializeValue"
	case FaultValueCommitment:
		return "ValueCommitment"
	default:
		return fmt.Sprintf("AckFaultKind(%d)", uint32(k))
	}
}

// AckFault blames the sender of an invalid Ack.
type AckFault struct {
	Sender uint32
	Kind   AckFaultKind
}

func (f *AckFault) Error() string {
	return fmt.Sprintf("invalid Ack from sender %d: %s", f.Sender, f.Kind)
}
