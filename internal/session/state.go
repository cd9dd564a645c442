// Package session orchestrates one room's pairing: it owns the negotiation
// session, routes relay events into it one at a time, and drives media
// acquisition and rendering around it.
package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/pairtalk/internal/media"
	"github.com/1ureka/pairtalk/internal/negotiation"
)

var (
	// ErrNoPeerAvailable is returned by actions that need a paired
	// participant when the room has none.
	ErrNoPeerAvailable = errors.New("no peer available")
	// ErrMediaUnavailable wraps a media source failure. The session is left
	// untouched.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrControllerClosed is returned once the controller has shut down.
	ErrControllerClosed = errors.New("controller closed")
)

// CallState is the aggregate call lifecycle shown to the user.
type CallState int

const (
	Idle CallState = iota
	Calling
	InCall
	Ended
)

func (s CallState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calling:
		return "calling"
	case InCall:
		return "in-call"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// Observer receives the controller's notifications. Methods are called from
// the controller goroutine and must not block on the controller.
type Observer interface {
	// ReadyToCall reports that peer joined and a call can be placed.
	ReadyToCall(peer string)
	// CallStateChanged reports a change of the aggregate call state or of
	// the underlying signaling state.
	CallStateChanged(call CallState, signaling negotiation.SignalingState)
	// LocalTrack reports newly acquired local media.
	LocalTrack(stream media.Stream)
	// Failed reports an error that no caller is waiting for.
	Failed(err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) ReadyToCall(string)                                     {}
func (NopObserver) CallStateChanged(CallState, negotiation.SignalingState) {}
func (NopObserver) LocalTrack(media.Stream)                                {}
func (NopObserver) Failed(error)                                           {}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	Room      string
	Self      string
	Peer      string // empty when unpaired
	Role      negotiation.Role
	Signaling negotiation.SignalingState
	Call      CallState

	LocalTracks       int
	RemoteTracks      int
	RemoteStreams     int
	PendingCandidates int
}
