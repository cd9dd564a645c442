// Package media models local and remote media as opaque tracks grouped into
// streams, and declares the collaborators that capture and display them.
package media

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Kinds lists every supported kind in canonical (SDP section) order.
var Kinds = []Kind{KindAudio, KindVideo}

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAudio, KindVideo:
		return k, nil
	}
	return "", fmt.Errorf("unknown media kind %q (want audio or video)", s)
}

// ParseKinds converts a list of strings, rejecting duplicates.
func ParseKinds(values []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(values))
	kinds := make([]Kind, 0, len(values))
	for _, v := range values {
		k, err := ParseKind(v)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("duplicate media kind %q", k)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Track is one local or remote media track. ID is the attachment identifier.
type Track struct {
	ID       string
	Kind     Kind
	StreamID string
}

// Stream is a handle to a group of tracks that are displayed together.
type Stream struct {
	ID     string
	Tracks []Track
}

// Has reports whether the stream contains a track with the given ID.
func (s Stream) Has(trackID string) bool {
	for _, t := range s.Tracks {
		if t.ID == trackID {
			return true
		}
	}
	return false
}

// Source supplies local tracks on demand. Acquire may block (device
// permission prompts, camera warm-up); it must honour ctx.
type Source interface {
	Acquire(ctx context.Context, kinds []Kind) ([]Track, error)
	Release(tracks []Track)
}

// Sink displays streams. Render is called once per new or changed stream,
// Clear once when the stream goes away.
type Sink interface {
	Render(stream Stream)
	Clear(streamID string)
}

// StreamsOf groups tracks by stream ID, keeping first-seen order.
func StreamsOf(tracks []Track) []Stream {
	var streams []Stream
	index := make(map[string]int)
	for _, t := range tracks {
		i, ok := index[t.StreamID]
		if !ok {
			i = len(streams)
			index[t.StreamID] = i
			streams = append(streams, Stream{ID: t.StreamID})
		}
		streams[i].Tracks = append(streams[i].Tracks, t)
	}
	return streams
}
