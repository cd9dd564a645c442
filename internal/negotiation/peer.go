package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
)

// Peer produces and consumes session descriptions for one session. It is the
// media stack underneath the state machine: the engine decides *when* a
// description is created or applied, the Peer decides *what* it contains.
//
// Implementations need not be safe for concurrent use; the engine calls them
// from the session owner only.
type Peer interface {
	// CreateOffer builds an offer advertising tracks and sets it as the
	// local description.
	CreateOffer(tracks []media.Track) (webrtc.SessionDescription, error)
	// CreateAnswer applies a remote offer and builds the matching answer,
	// advertising whichever of tracks fit the offered sections.
	CreateAnswer(offer webrtc.SessionDescription, tracks []media.Track) (webrtc.SessionDescription, error)
	// SetRemoteAnswer applies the remote answer to the outstanding local offer.
	SetRemoteAnswer(answer webrtc.SessionDescription) error
	// Rollback discards the outstanding local offer.
	Rollback() error
	// AddICECandidate applies one remote connectivity hint.
	AddICECandidate(candidate string) error
	// ReplaceTrack swaps the track sent on the slot of the same kind.
	ReplaceTrack(track media.Track) error
	Close() error
}

// PeerHooks are the asynchronous outputs of a Peer.
type PeerHooks struct {
	// OnCandidate is called with each locally gathered connectivity hint.
	OnCandidate func(candidate string)
	// OnRemoteStream is called when remote media arrives.
	OnRemoteStream func(stream media.Stream)
}

// PeerFactory creates the Peer for a new session.
type PeerFactory func(hooks PeerHooks) (Peer, error)
