package media

import (
	"strings"
	"sync"

	"github.com/1ureka/pairtalk/internal/util"
)

// LogSink "renders" streams by logging them.
type LogSink struct {
	Label string
}

func (s LogSink) Render(stream Stream) {
	kinds := make([]string, 0, len(stream.Tracks))
	for _, t := range stream.Tracks {
		kinds = append(kinds, string(t.Kind))
	}
	util.LogSuccess("%s stream %s: %s", s.Label, stream.ID, strings.Join(kinds, "+"))
}

func (s LogSink) Clear(streamID string) {
	util.LogInfo("%s stream %s cleared", s.Label, streamID)
}

// MemorySink records what is currently displayed.
type MemorySink struct {
	mu      sync.Mutex
	active  map[string]Stream
	created int
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{active: make(map[string]Stream)}
}

func (s *MemorySink) Render(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[stream.ID]; !ok {
		s.created++
	}
	s.active[stream.ID] = stream
}

func (s *MemorySink) Clear(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, streamID)
}

// Active returns the number of streams currently displayed.
func (s *MemorySink) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Created returns how many distinct render surfaces were ever opened.
func (s *MemorySink) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Tracks returns the number of tracks across all displayed streams.
func (s *MemorySink) Tracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.active {
		n += len(st.Tracks)
	}
	return n
}
