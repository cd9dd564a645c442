package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSourceUnavailable is returned by a SyntheticSource configured to fail.
var ErrSourceUnavailable = errors.New("media source unavailable")

// SyntheticSource hands out placeholder tracks. It stands in for camera and
// microphone capture in the CLI and in tests.
type SyntheticSource struct {
	// Delay simulates slow device acquisition.
	Delay time.Duration

	mu   sync.Mutex
	fail bool
	live map[string]Track
}

// NewSyntheticSource creates a source with no delay.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{live: make(map[string]Track)}
}

// SetFailing makes subsequent Acquire calls fail (or succeed again).
func (s *SyntheticSource) SetFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

// Acquire returns one track per kind, all sharing one fresh stream ID.
func (s *SyntheticSource) Acquire(ctx context.Context, kinds []Kind) ([]Track, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return nil, ErrSourceUnavailable
	}

	streamID := uuid.NewString()
	tracks := make([]Track, 0, len(kinds))
	for _, k := range kinds {
		t := Track{ID: uuid.NewString(), Kind: k, StreamID: streamID}
		s.live[t.ID] = t
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Release stops the given tracks. Unknown tracks are ignored.
func (s *SyntheticSource) Release(tracks []Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tracks {
		delete(s.live, t.ID)
	}
}

// Live returns the number of acquired tracks not yet released.
func (s *SyntheticSource) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
