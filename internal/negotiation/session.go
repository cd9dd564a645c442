package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
)

// Session is the negotiation state of one pair of participants in one room.
// It is a plain value mutated only through Engine; the owner serialises
// access.
type Session struct {
	Room   string
	Local  string
	Remote string
	Role   Role

	State             SignalingState
	LocalDescription  *webrtc.SessionDescription
	RemoteDescription *webrtc.SessionDescription

	// MakingOffer is true while CreateOffer is building a local offer and is
	// always false between Engine calls. Since the owner serialises access,
	// no remote offer can be handled mid-construction, so collisions are
	// detected from State == HaveLocalOffer alone.
	MakingOffer bool
	// PendingCandidates holds remote hints that arrived before any remote
	// description, in arrival order.
	PendingCandidates []string
	// Tracks are the locally attached tracks.
	Tracks []media.Track
	// NeedsNegotiation is set when the track set changed in a way the remote
	// side has not yet agreed to. The owner answers it with CreateOffer once
	// the session is Stable.
	NeedsNegotiation bool

	slots          map[media.Kind]string // kind -> track ID the remote accepts
	established    bool
	committedLocal *webrtc.SessionDescription
	applied        []string
	peer           Peer
	closed         bool
}

// NewSession creates a Stable session between local and remote, deriving the
// local role from the two identities.
func NewSession(room, local, remote string, peer Peer) *Session {
	return &Session{
		Room:   room,
		Local:  local,
		Remote: remote,
		Role:   RoleFor(local, remote),
		State:  Stable,
		slots:  make(map[media.Kind]string),
		peer:   peer,
	}
}

// HasSlot reports whether the remote side has agreed to receive a track of
// kind.
func (s *Session) HasSlot(kind media.Kind) bool {
	_, ok := s.slots[kind]
	return ok
}

// Sending reports whether track is the one currently carried by its slot.
func (s *Session) Sending(track media.Track) bool {
	return s.slots[track.Kind] == track.ID
}

// Established reports whether at least one offer/answer round completed.
func (s *Session) Established() bool { return s.established }

// Applied returns the remote hints handed to the peer so far, in order.
func (s *Session) Applied() []string {
	return append([]string(nil), s.applied...)
}

func (s *Session) Closed() bool { return s.closed }

// Track returns the attached track of kind, if any.
func (s *Session) Track(kind media.Kind) (media.Track, bool) {
	for _, t := range s.Tracks {
		if t.Kind == kind {
			return t, true
		}
	}
	return media.Track{}, false
}
