package negotiation

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/protocol"
	"github.com/1ureka/pairtalk/internal/util"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// LoggerFactory is used to create the engine's logger. Nil disables
	// logging.
	LoggerFactory logging.LoggerFactory
}

// Engine applies the offer/answer protocol to sessions. It is stateless and
// safe for concurrent use across different sessions.
type Engine struct {
	log logging.LeveledLogger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{}
	if cfg.LoggerFactory != nil {
		e.log = cfg.LoggerFactory.NewLogger("negotiation")
	}
	return e
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

func (e *Engine) warnf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Warnf(format, args...)
	}
}

// CreateOffer builds an offer for the current track set and moves the session
// to HaveLocalOffer. The message is an offer for the first round and
// nego-needed for every later one.
func (e *Engine) CreateOffer(s *Session) (*protocol.Message, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.State != Stable {
		return nil, fmt.Errorf("%w: create offer in %s", ErrInvalidState, s.State)
	}

	s.MakingOffer = true
	defer func() { s.MakingOffer = false }()

	desc, err := s.peer.CreateOffer(s.Tracks)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	s.LocalDescription = &desc
	s.State = HaveLocalOffer
	s.NeedsNegotiation = false

	typ := protocol.TypeOffer
	if s.established {
		typ = protocol.TypeNegoNeeded
		util.Stats.AddRenegotiation()
	}
	e.debugf("%s -> %s: %s with %d track(s)", s.Local, s.Remote, typ, len(s.Tracks))
	return s.message(typ, desc.SDP), nil
}

// HandleOffer applies a remote offer or nego-needed and returns the reply.
//
// If a local offer is outstanding, the roles decide: the impolite side drops
// the incoming offer and returns (nil, nil); the polite side rolls its own
// offer back and answers. Neither outcome is an error.
func (e *Engine) HandleOffer(s *Session, msg *protocol.Message) (*protocol.Message, error) {
	if err := s.admit(msg); err != nil {
		return nil, err
	}
	if !msg.Type.IsProposal() {
		return nil, fmt.Errorf("%w: %s is not an offer", ErrInvalidState, msg.Type)
	}
	if msg.Type == protocol.TypeNegoNeeded && !s.established {
		return nil, fmt.Errorf("%w: %s before the first round", ErrInvalidState, msg.Type)
	}

	switch s.State {
	case HaveLocalOffer:
		util.Stats.AddGlare()
		if s.Role == Impolite {
			e.debugf("%s: glare, keeping own offer and ignoring %s from %s", s.Local, msg.Type, s.Remote)
			return nil, nil
		}
		e.debugf("%s: glare, rolling back own offer for %s from %s", s.Local, msg.Type, s.Remote)
		if err := s.peer.Rollback(); err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		s.LocalDescription = s.committedLocal
		s.State = Stable
	case HaveRemoteOffer:
		return nil, fmt.Errorf("%w: %s while answering", ErrInvalidState, msg.Type)
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.Payload}
	prevRemote := s.RemoteDescription
	s.RemoteDescription = &offer
	s.State = HaveRemoteOffer

	answer, err := s.peer.CreateAnswer(offer, s.Tracks)
	if err != nil {
		s.RemoteDescription = prevRemote
		s.State = Stable
		return nil, fmt.Errorf("create answer: %w", err)
	}
	s.LocalDescription = &answer
	e.flushCandidates(s)
	s.State = Stable
	e.commit(s)

	// Tracks the offer had no room for (including those of a rolled-back
	// local offer) need a round of our own.
	s.NeedsNegotiation = s.hasUnslotted()
	return s.message(msg.Type.ReplyType(), answer.SDP), nil
}

// HandleAnswer applies the remote answer to the outstanding local offer.
func (e *Engine) HandleAnswer(s *Session, msg *protocol.Message) error {
	if err := s.admit(msg); err != nil {
		return err
	}
	if !msg.Type.IsDescription() || msg.Type.IsProposal() {
		return fmt.Errorf("%w: %s is not an answer", ErrInvalidState, msg.Type)
	}
	if s.State != HaveLocalOffer {
		return fmt.Errorf("%w: %s in %s", ErrInvalidState, msg.Type, s.State)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.Payload}
	if err := s.peer.SetRemoteAnswer(answer); err != nil {
		if rbErr := s.peer.Rollback(); rbErr != nil {
			e.warnf("%s: rollback after rejected answer: %v", s.Local, rbErr)
		}
		s.LocalDescription = s.committedLocal
		s.State = Stable
		return fmt.Errorf("apply answer: %w", err)
	}

	s.RemoteDescription = &answer
	e.flushCandidates(s)
	s.State = Stable
	e.commit(s)
	// Tracks the answer left out stay unslotted. Proposing them again would
	// loop against a peer that keeps declining.
	return nil
}

// AddConnectivityHint buffers candidate until a remote description exists,
// then applies it.
func (e *Engine) AddConnectivityHint(s *Session, candidate string) error {
	if s.closed {
		return ErrClosed
	}
	if s.RemoteDescription == nil {
		s.PendingCandidates = append(s.PendingCandidates, candidate)
		e.debugf("%s: buffered candidate (%d pending)", s.Local, len(s.PendingCandidates))
		return nil
	}
	return e.applyCandidate(s, candidate)
}

// HandleCandidate is AddConnectivityHint for a received message.
func (e *Engine) HandleCandidate(s *Session, msg *protocol.Message) error {
	if err := s.admit(msg); err != nil {
		return err
	}
	if msg.Type != protocol.TypeCandidate {
		return fmt.Errorf("%w: %s is not a candidate", ErrInvalidState, msg.Type)
	}
	return e.AddConnectivityHint(s, msg.Payload)
}

// AttachTrack adds a track whose kind has no negotiated slot and marks the
// session for renegotiation. If an unnegotiated track of the same kind is
// already attached it is swapped out and returned.
func (e *Engine) AttachTrack(s *Session, track media.Track) (*media.Track, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.HasSlot(track.Kind) {
		return nil, fmt.Errorf("%w: %s", ErrSlotExists, track.Kind)
	}

	s.NeedsNegotiation = true
	for i, t := range s.Tracks {
		if t.Kind == track.Kind {
			s.Tracks[i] = track
			return &t, nil
		}
	}
	s.Tracks = append(s.Tracks, track)
	return nil, nil
}

// ReplaceTrack swaps the track carried by the negotiated slot of the same
// kind. It changes neither the signaling state nor produces a message. The
// previous track is returned.
func (e *Engine) ReplaceTrack(s *Session, track media.Track) (media.Track, error) {
	if s.closed {
		return media.Track{}, ErrClosed
	}
	if !s.HasSlot(track.Kind) {
		return media.Track{}, fmt.Errorf("%w: %s", ErrNoSlot, track.Kind)
	}
	if err := s.peer.ReplaceTrack(track); err != nil {
		return media.Track{}, fmt.Errorf("replace %s track: %w", track.Kind, err)
	}

	var old media.Track
	replaced := false
	for i, t := range s.Tracks {
		if t.Kind == track.Kind {
			old = t
			s.Tracks[i] = track
			replaced = true
			break
		}
	}
	if !replaced {
		s.Tracks = append(s.Tracks, track)
	}
	s.slots[track.Kind] = track.ID
	return old, nil
}

// RemoteStreams returns the streams the remote side announced in its current
// description.
func (e *Engine) RemoteStreams(s *Session) ([]media.Stream, error) {
	if s.RemoteDescription == nil {
		return nil, nil
	}
	parsed, err := parseDescription(*s.RemoteDescription)
	if err != nil {
		return nil, err
	}
	return media.StreamsOf(sentTracks(parsed)), nil
}

// Close tears the session down and returns the tracks that were attached so
// the caller can release them. Closing twice returns nothing.
func (e *Engine) Close(s *Session) []media.Track {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.peer.Close(); err != nil {
		e.warnf("%s: close peer: %v", s.Local, err)
	}

	tracks := s.Tracks
	s.Tracks = nil
	s.PendingCandidates = nil
	s.slots = map[media.Kind]string{}
	s.State = Stable
	return tracks
}

func (e *Engine) flushCandidates(s *Session) {
	pending := s.PendingCandidates
	s.PendingCandidates = nil
	for _, c := range pending {
		if err := e.applyCandidate(s, c); err != nil {
			e.warnf("%s: dropping buffered candidate: %v", s.Local, err)
		}
	}
}

func (e *Engine) applyCandidate(s *Session, candidate string) error {
	if err := s.peer.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	s.applied = append(s.applied, candidate)
	return nil
}

// commit records the outcome of a completed round.
func (e *Engine) commit(s *Session) {
	s.established = true
	s.committedLocal = s.LocalDescription

	local, err := parseDescription(*s.LocalDescription)
	if err != nil {
		e.warnf("%s: %v", s.Local, err)
		return
	}
	remote, err := parseDescription(*s.RemoteDescription)
	if err != nil {
		e.warnf("%s: %v", s.Local, err)
		return
	}
	s.slots = negotiatedSlots(local, remote)
	e.debugf("%s: round complete, %d slot(s)", s.Local, len(s.slots))
}

// admit checks that msg belongs to s.
func (s *Session) admit(msg *protocol.Message) error {
	if s.closed {
		return ErrClosed
	}
	if msg.From != s.Remote || msg.To != s.Local {
		return fmt.Errorf("%w: %s from %q to %q", ErrForeignMessage, msg.Type, msg.From, msg.To)
	}
	return nil
}

func (s *Session) hasUnslotted() bool {
	for _, t := range s.Tracks {
		if !s.HasSlot(t.Kind) {
			return true
		}
	}
	return false
}

func (s *Session) message(typ protocol.MessageType, payload string) *protocol.Message {
	return &protocol.Message{
		Type:    typ,
		From:    s.Local,
		To:      s.Remote,
		Room:    s.Room,
		Payload: payload,
	}
}
