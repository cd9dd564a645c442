// Package negotiation implements the two-party offer/answer protocol: the
// signaling state machine of one session, buffering of connectivity hints,
// track slots, and the polite/impolite rule that settles concurrent offers.
//
// The engine holds no per-session state. Every operation takes the *Session
// it mutates; the caller owns the session and must not invoke two operations
// on the same session concurrently.
package negotiation

import "fmt"

// SignalingState is the offer/answer state of one session.
type SignalingState int

const (
	// Stable: no exchange in progress.
	Stable SignalingState = iota
	// HaveLocalOffer: a local offer was sent and awaits an answer.
	HaveLocalOffer
	// HaveRemoteOffer: a remote offer was applied and awaits the local answer.
	HaveRemoteOffer
)

func (s SignalingState) String() string {
	switch s {
	case Stable:
		return "stable"
	case HaveLocalOffer:
		return "have-local-offer"
	case HaveRemoteOffer:
		return "have-remote-offer"
	default:
		return fmt.Sprintf("SignalingState(%d)", int(s))
	}
}

// Role breaks ties when both participants offer at the same time.
// The impolite side keeps its own offer; the polite side yields.
type Role int

const (
	Impolite Role = iota
	Polite
)

func (r Role) String() string {
	switch r {
	case Impolite:
		return "impolite"
	case Polite:
		return "polite"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// RoleFor derives the local role from the two identities. The
// lexicographically smaller identity is impolite. Both sides compute the same
// split without exchanging anything.
func RoleFor(local, remote string) Role {
	if local < remote {
		return Impolite
	}
	return Polite
}
