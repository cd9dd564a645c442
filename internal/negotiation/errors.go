package negotiation

import "errors"

var (
	// ErrInvalidState is returned when an operation or message is not
	// allowed in the session's current signaling state. Callers drop the
	// message and carry on.
	ErrInvalidState = errors.New("invalid signaling state")
	// ErrForeignMessage is returned for a message that does not belong to
	// the session (wrong sender or recipient).
	ErrForeignMessage = errors.New("message does not belong to session")
	// ErrNoSlot is returned by ReplaceTrack when no negotiated slot of the
	// track's kind exists yet.
	ErrNoSlot = errors.New("no negotiated slot for track kind")
	// ErrSlotExists is returned by AttachTrack when a negotiated slot of the
	// track's kind already exists; use ReplaceTrack instead.
	ErrSlotExists = errors.New("slot for track kind already negotiated")
	// ErrClosed is returned for any operation on a closed session.
	ErrClosed = errors.New("session closed")
)
