// Package protocol defines the signaling message exchanged between two
// participants through the relay, and its wire encoding.
package protocol

// MessageType identifies the kind of signaling message.
type MessageType string

// Peer-to-peer message types. These are addressed to the other participant
// and forwarded verbatim by the relay.
const (
	TypeOffer      MessageType = "offer"         // initial capability proposal
	TypeAnswer     MessageType = "answer"        // reply to TypeOffer
	TypeCandidate  MessageType = "ice-candidate" // connectivity hint
	TypeNegoNeeded MessageType = "nego-needed"   // renegotiation proposal
	TypeNegoDone   MessageType = "nego-done"     // reply to TypeNegoNeeded
	TypeHangUp     MessageType = "hang-up"       // explicit end, Payload is the reason
)

// Relay control types. Only the relay emits these.
const (
	TypeWelcome    MessageType = "welcome"     // To carries the receiver's assigned identity
	TypePeerJoined MessageType = "peer-joined" // From is the participant that joined
	TypePeerLeft   MessageType = "peer-left"   // From is the participant that left
	TypeError      MessageType = "error"       // Payload carries the reason
)

// Message is the JSON structure carried by the relay.
//
// Payload is the SDP for offer/answer/nego-needed/nego-done, the
// JSON-encoded ICECandidateInit for ice-candidate, and a free-form reason for
// hang-up.
type Message struct {
	Type    MessageType `json:"type"`
	From    string      `json:"from,omitempty"`
	To      string      `json:"to,omitempty"`
	Room    string      `json:"room,omitempty"`
	Seq     uint32      `json:"seq,omitempty"`
	Payload string      `json:"payload,omitempty"`
}

// IsDescription reports whether t carries a session description.
func (t MessageType) IsDescription() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeNegoNeeded, TypeNegoDone:
		return true
	}
	return false
}

// IsProposal reports whether t proposes a new offer/answer round.
func (t MessageType) IsProposal() bool {
	return t == TypeOffer || t == TypeNegoNeeded
}

// IsPeer reports whether t is exchanged between participants (as opposed to
// emitted by the relay).
func (t MessageType) IsPeer() bool {
	return t.IsDescription() || t == TypeCandidate || t == TypeHangUp
}

// IsControl reports whether t is a relay control message.
func (t MessageType) IsControl() bool {
	switch t {
	case TypeWelcome, TypePeerJoined, TypePeerLeft, TypeError:
		return true
	}
	return false
}

// ReplyType returns the answer type matching a proposal: answer for offer,
// nego-done for nego-needed. Any other input is returned unchanged.
func (t MessageType) ReplyType() MessageType {
	switch t {
	case TypeOffer:
		return TypeAnswer
	case TypeNegoNeeded:
		return TypeNegoDone
	}
	return t
}
